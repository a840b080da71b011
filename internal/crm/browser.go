package crm

import (
	"context"
	"time"
)

// WaitState is the element condition WaitFor blocks on.
type WaitState string

const (
	WaitVisible WaitState = "visible"
	WaitHidden  WaitState = "hidden"
)

// BrowserClient is the browser-automation capability the engine consumes.
// The engine depends only on this interface, never on a specific automation
// library; tests inject a deterministic fake.
//
// Locators are CSS selectors, except the "text=" prefix which matches
// elements by visible text.
type BrowserClient interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, locator, text string) error
	SelectOption(ctx context.Context, locator, value string) error
	Click(ctx context.Context, locator string) error
	Upload(ctx context.Context, locator, path string) error
	WaitFor(ctx context.Context, locator string, state WaitState, timeout time.Duration) error
	LocatorCount(ctx context.Context, locator string) (int, error)
	TextContents(ctx context.Context, locator string) ([]string, error)

	// OnDialog registers a handler for native alert dialogs. The client
	// accepts the dialog itself; the handler only observes the message.
	OnDialog(handler func(message string))

	Close(ctx context.Context) error
}
