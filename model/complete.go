package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/util"
)

// Complete drains a Generate call and returns the final response.
// Errors are classified as core.ErrOracleTimeout, core.ErrCancelled or
// core.ErrOracleError.
func Complete(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final  *Response
		genErr error
	)

	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				rr := r
				final = &rr
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && genErr == nil {
				genErr = err
			}
		case <-ctx.Done():
			return Response{}, Classify(ctx.Err())
		}
	}

	if genErr != nil {
		return Response{}, Classify(genErr)
	}
	if final == nil {
		return Response{}, fmt.Errorf("%w: %s returned no final response", core.ErrOracleError, m.Info().Name)
	}
	return *final, nil
}

// Classify maps an oracle failure onto the core error taxonomy. Errors that
// already carry a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrOracleTimeout),
		errors.Is(err, core.ErrOracleError),
		errors.Is(err, core.ErrMalformedReply),
		errors.Is(err, core.ErrCancelled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", core.ErrOracleTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", core.ErrCancelled, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrOracleError, err)
	}
}

// SchemaFor derives a strict ResponseSchema from a struct using its json tags.
// Every non-omitempty field is required and unknown fields are rejected.
func SchemaFor(name, description string, v any) ResponseSchema {
	schema := util.CreateSchema(v)
	schema["additionalProperties"] = false
	return ResponseSchema{Name: name, Description: description, Schema: schema}
}

// CompleteStructured asks the oracle for a reply matching schema and decodes
// it into out. Parse and validation failures wrap core.ErrMalformedReply.
func CompleteStructured(ctx context.Context, m Model, req Request, schema ResponseSchema, out any) error {
	req.ResponseSchema = &schema
	req.Tools = nil
	resp, err := Complete(ctx, m, req)
	if err != nil {
		return err
	}
	return DecodeStructured(resp.Message.Content, schema.Schema, out)
}

// DecodeStructured strictly decodes a JSON object reply: the text must be a
// single JSON object that validates against schema.
func DecodeStructured(text string, schema map[string]any, out any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty structured reply", core.ErrMalformedReply)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return fmt.Errorf("%w: structured reply is not a JSON object: %v", core.ErrMalformedReply, err)
	}
	if err := util.ValidateParameters(raw, schema); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedReply, err)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedReply, err)
	}
	return nil
}
