package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/masgate/internal/domain"
)

type ListTracesInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListTracesOutput struct {
	Body []*domain.Trace
}

type GetTraceInput struct {
	ID string `path:"id" minLength:"1" maxLength:"200" doc:"Trace ID or client request ID"`
}

type GetTraceOutput struct {
	Body *domain.Trace
}

func RegisterTraceRoutes(api huma.API, traces TraceStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-traces",
		Method:      http.MethodGet,
		Path:        "/traces",
		Summary:     "List recent traces, newest first",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *ListTracesInput) (*ListTracesOutput, error) {
		list, err := traces.List(ctx, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list traces", err)
		}
		if list == nil {
			list = []*domain.Trace{}
		}

		return &ListTracesOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trace",
		Method:      http.MethodGet,
		Path:        "/traces/{id}",
		Summary:     "Get a trace by record ID or client request ID",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *GetTraceInput) (*GetTraceOutput, error) {
		var (
			trace *domain.Trace
			err   error
		)
		// Client request ids are usually UUIDs too, so fall back on a miss.
		if id, parseErr := uuid.Parse(input.ID); parseErr == nil {
			trace, err = traces.GetByID(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				trace, err = traces.GetByClientRequestID(ctx, input.ID)
			}
		} else {
			trace, err = traces.GetByClientRequestID(ctx, input.ID)
		}
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("trace not found")
			}
			return nil, huma.Error500InternalServerError("failed to get trace", err)
		}

		return &GetTraceOutput{Body: trace}, nil
	})
}
