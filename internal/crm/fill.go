package crm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/noahflow/agent/internal/fieldmap"
	"github.com/noahflow/agent/internal/models"
)

// fillForm writes every value the request carries into the hearing-report
// form. The inspector name goes first and its absence is fatal: a form
// without that control is the wrong page, and nothing else would land
// where it should. Every other field degrades to a logged warning so one
// broken control never sinks the whole submission.
func (e *Engine) fillForm(ctx context.Context, req *models.AutomationRequest) *models.Outcome {
	e.report(StageFieldFill, "filling report fields")

	inspector := fieldmap.Lookup(fieldmap.InspectorNameKey)
	if len(inspector) == 0 {
		return failure(models.ErrorKindNavigation, "inspector name entry missing from field map")
	}
	if err := e.applyField(ctx, inspector[0], req.Field(fieldmap.InspectorNameKey)); err != nil {
		return failure(models.ErrorKindNavigation,
			fmt.Sprintf("inspector name field: %v", err))
	}

	filled := 0
	for _, entry := range e.fields {
		if entry.Key == fieldmap.InspectorNameKey {
			continue
		}
		value := req.Field(entry.Key)
		if value == "" {
			continue
		}
		if err := e.applyFieldSafe(ctx, entry, value); err != nil {
			e.log.Warn().Err(err).
				Str("key", entry.Key).
				Str("locator", entry.Locator()).
				Msg("field skipped")
			continue
		}
		filled++
	}
	e.log.Info().Int("filled", filled).Msg("form fields written")
	return nil
}

// applyFieldSafe shields the fill loop from panics inside the browser
// client so a single bad interaction degrades to a skipped field.
func (e *Engine) applyFieldSafe(ctx context.Context, entry fieldmap.Entry, value string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("field interaction panicked: %v", r)
		}
	}()
	return e.applyField(ctx, entry, value)
}

func (e *Engine) applyField(ctx context.Context, entry fieldmap.Entry, value string) error {
	locator := entry.Locator()

	if err := e.client.WaitFor(ctx, locator, WaitVisible, e.timings.StepTimeout); err != nil {
		return errFieldAbsent
	}

	switch entry.Kind {
	case fieldmap.KindText, fieldmap.KindTextarea:
		return e.step(ctx, func(c context.Context) error {
			return e.client.Fill(c, locator, value)
		})
	case fieldmap.KindSelect:
		return e.step(ctx, func(c context.Context) error {
			return e.client.SelectOption(c, locator, value)
		})
	case fieldmap.KindRadio:
		// A radio entry fires only when the value matches its variant;
		// the sibling entry for the same key handles the other value.
		if !strings.EqualFold(value, entry.ValueMatch) {
			return nil
		}
		return e.step(ctx, func(c context.Context) error {
			return e.client.Click(c, locator)
		})
	case fieldmap.KindFile:
		if _, err := os.Stat(value); err != nil {
			e.log.Warn().Str("key", entry.Key).Str("path", value).Msg("upload file missing, skipped")
			return nil
		}
		return e.step(ctx, func(c context.Context) error {
			return e.client.Upload(c, locator, value)
		})
	default:
		return fmt.Errorf("unknown input kind %q", entry.Kind)
	}
}
