package dispatch

import (
	"context"

	"github.com/evahq/evamem/pkg/memory"
)

var categoryEnum = []string{"preference", "fact", "goal", "event", "other"}

// operations builds the full operation table. Every caller-facing entry
// point of the engine is reachable through here, so transports stay thin.
func operations(svc *memory.Service) []Operation {
	return []Operation{
		{
			Name:        "append_turn",
			Description: "Record one conversational turn in the short-term buffer",
			Params: map[string]ParamSpec{
				"user_id":   {Type: "string", Required: true},
				"device_id": {Type: "string"},
				"role":      {Type: "string", Required: true, Enum: []string{"user", "assistant"}},
				"text":      {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.AppendTurn(ctx,
					argString(args, "user_id"), argString(args, "device_id"),
					memory.Role(argString(args, "role")), argString(args, "text"))
			},
		},
		{
			Name:        "get_recent_turns",
			Description: "Return the newest active turns in chronological order",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
				"limit":   {Type: "int"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.GetRecentTurns(ctx, argString(args, "user_id"), argInt(args, "limit"))
			},
		},
		{
			Name:        "clear_context",
			Description: "Drop all short-term entries for a user without compressing them",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return nil, svc.ClearContext(ctx, argString(args, "user_id"))
			},
		},
		{
			Name:        "save_memory",
			Description: "Persist a manually curated long-term memory record",
			Params: map[string]ParamSpec{
				"user_id":    {Type: "string", Required: true},
				"content":    {Type: "string", Required: true},
				"category":   {Type: "string", Required: true, Enum: categoryEnum},
				"importance": {Type: "int", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.SaveMemory(ctx, memory.MemoryRecord{
					UserID:     argString(args, "user_id"),
					Content:    argString(args, "content"),
					Category:   memory.Category(argString(args, "category")),
					Importance: argInt(args, "importance"),
					Source:     memory.SourceManual,
				})
			},
		},
		{
			Name:        "get_memory",
			Description: "Fetch one memory record by id",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
				"id":      {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.GetMemory(ctx, argString(args, "user_id"), argString(args, "id"))
			},
		},
		{
			Name:        "search_memory",
			Description: "Rank memory records against a query by relevance",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
				"query":   {Type: "string", Required: true},
				"limit":   {Type: "int"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.SearchMemory(ctx, argString(args, "user_id"), argString(args, "query"), argInt(args, "limit"))
			},
		},
		{
			Name:        "list_memories",
			Description: "List memory records by importance, optionally filtered by category",
			Params: map[string]ParamSpec{
				"user_id":  {Type: "string", Required: true},
				"category": {Type: "string", Enum: categoryEnum},
				"limit":    {Type: "int"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.ListMemories(ctx,
					argString(args, "user_id"),
					memory.Category(argString(args, "category")),
					argInt(args, "limit"))
			},
		},
		{
			Name:        "update_memory",
			Description: "Apply a partial update to an existing memory record",
			Params: map[string]ParamSpec{
				"user_id":    {Type: "string", Required: true},
				"id":         {Type: "string", Required: true},
				"content":    {Type: "string"},
				"category":   {Type: "string", Enum: categoryEnum},
				"importance": {Type: "int"},
				"keywords":   {Type: "strings"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				var patch memory.RecordPatch
				if _, ok := args["content"]; ok {
					content := argString(args, "content")
					patch.Content = &content
				}
				if _, ok := args["category"]; ok {
					category := memory.Category(argString(args, "category"))
					patch.Category = &category
				}
				if _, ok := args["importance"]; ok {
					importance := argInt(args, "importance")
					patch.Importance = &importance
				}
				if _, ok := args["keywords"]; ok {
					keywords := argStrings(args, "keywords")
					patch.Keywords = &keywords
				}
				return svc.UpdateMemory(ctx, argString(args, "user_id"), argString(args, "id"), patch)
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory record permanently",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
				"id":      {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return nil, svc.DeleteMemory(ctx, argString(args, "user_id"), argString(args, "id"))
			},
		},
		{
			Name:        "request_compression",
			Description: "Run one compression job for the user synchronously",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.RequestCompression(ctx, argString(args, "user_id"))
			},
		},
		{
			Name:        "build_context",
			Description: "Assemble the bounded prompt context for the next turn",
			Params: map[string]ParamSpec{
				"user_id":     {Type: "string", Required: true},
				"text":        {Type: "string"},
				"size_budget": {Type: "int"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.BuildContext(ctx,
					argString(args, "user_id"), argString(args, "text"), argInt(args, "size_budget"))
			},
		},
		{
			Name:        "get_summary",
			Description: "Return the rolling conversation summary for the user",
			Params: map[string]ParamSpec{
				"user_id": {Type: "string", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return svc.GetSummary(ctx, argString(args, "user_id"))
			},
		},
	}
}
