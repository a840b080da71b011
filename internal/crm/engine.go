package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noahflow/agent/internal/fieldmap"
	"github.com/noahflow/agent/internal/models"
)

// Stage identifies one step of the submission sequence. Stages advance
// strictly forward; a fatal error at any stage skips straight to cleanup.
type Stage string

const (
	StageLogin         Stage = "login"
	StageStoreSwitch   Stage = "store_switch"
	StagePatientSearch Stage = "patient_search"
	StageNavigate      Stage = "navigate"
	StageFieldFill     Stage = "field_fill"
	StageSubmit        Stage = "submit"
	StageCleanup       Stage = "cleanup"
)

// ProgressFunc receives stage notifications. Calls are fire-and-forget;
// a slow or failing observer never stalls the engine.
type ProgressFunc func(stage Stage, message string)

// CRM page locators.
const (
	locAccount      = "#Acct"
	locPassword     = "#Pwd"
	locLoginSubmit  = "#Send"
	locStorePopup   = "#switch-active-store-popup-body"
	locStoreSelect  = `select[name="StoreSId"]`
	locStoreConfirm = "#SwitchActiveStore"
	locSearchTab    = "text=使用姓名+生日搜尋客戶"
	locSearchName   = "#Cust_Name"
	locBirthYear    = "#CustBirthYear"
	locBirthMonth   = "#CustBirthMonth"
	locBirthDay     = "#CustBirthDay"
	locSearchGo     = "#SearchCustNameBirth"
	locHearingTab   = "text=聽力評估"
	locAddReport    = "text=新增檢測報告"
	locSubmit       = ".submit button#Send"
)

const maxDuplicateCandidates = 5

// Timings groups the engine's pacing knobs. Zero values fall back to
// production defaults; tests shrink them to keep runs fast.
type Timings struct {
	StepTimeout  time.Duration // per browser interaction
	Settle       time.Duration // after submit, before relocation
	SearchSettle time.Duration // after firing the patient search
	TabDelay     time.Duration // after switching search tabs
	NavBackoff   time.Duration // between navigation click retries
	PopupAppear  time.Duration // wait for the store switch popup to show
	PopupClose   time.Duration // wait for the store switch popup to go away
}

func (t Timings) withDefaults() Timings {
	if t.StepTimeout == 0 {
		t.StepTimeout = 10 * time.Second
	}
	if t.Settle == 0 {
		t.Settle = 3 * time.Second
	}
	if t.SearchSettle == 0 {
		t.SearchSettle = 2 * time.Second
	}
	if t.TabDelay == 0 {
		t.TabDelay = 500 * time.Millisecond
	}
	if t.NavBackoff == 0 {
		t.NavBackoff = 500 * time.Millisecond
	}
	if t.PopupAppear == 0 {
		t.PopupAppear = 3 * time.Second
	}
	if t.PopupClose == 0 {
		t.PopupClose = 5 * time.Second
	}
	return t
}

// Engine drives one submission through the CRM: login, store switch,
// patient search, navigation to the hearing-report form, field fill,
// submit, then file relocation. One engine handles one request; the
// intake runner constructs a fresh engine (and browser) per file.
type Engine struct {
	client     BrowserClient
	fields     []fieldmap.Entry
	progress   ProgressFunc
	log        zerolog.Logger
	timings    Timings
	navRetries int

	alertMu   sync.Mutex
	lastAlert string
}

// Option customizes a new Engine.
type Option func(*Engine)

func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithTimings(t Timings) Option {
	return func(e *Engine) { e.timings = t.withDefaults() }
}

func WithNavRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.navRetries = n
		}
	}
}

// NewEngine builds an engine over the injected browser client using the
// full field map.
func NewEngine(client BrowserClient, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		fields:     fieldmap.Entries(),
		log:        zerolog.Nop(),
		timings:    Timings{}.withDefaults(),
		navRetries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the full submission sequence for req and always finishes
// with cleanup: the browser is closed and, unless the run was canceled,
// the source file is relocated to processed/ or failed/.
func (e *Engine) Run(ctx context.Context, req *models.AutomationRequest) *models.Outcome {
	e.client.OnDialog(func(msg string) {
		e.alertMu.Lock()
		e.lastAlert = msg
		e.alertMu.Unlock()
		e.log.Debug().Str("message", msg).Msg("dialog captured")
	})

	out := e.execute(ctx, req)

	e.report(StageCleanup, "closing browser")
	closeCtx, cancel := context.WithTimeout(context.Background(), e.timings.StepTimeout)
	if err := e.client.Close(closeCtx); err != nil {
		e.log.Warn().Err(err).Msg("browser close failed")
	}
	cancel()

	// Operator cancellation leaves the file where it is so the next
	// detection cycle can pick it up again.
	if !out.Success && ctx.Err() != nil {
		e.log.Info().Str("path", req.SourcePath).Msg("run canceled, file left in place")
		return out
	}

	if req.SourcePath != "" {
		dest, err := e.relocate(req.SourcePath, out.Success)
		if err != nil {
			e.log.Error().Err(err).Str("path", req.SourcePath).Msg("relocation failed")
		} else {
			out.MovedTo = dest
		}
	}
	return out
}

func (e *Engine) execute(ctx context.Context, req *models.AutomationRequest) *models.Outcome {
	if out := e.login(ctx, req.Credentials); out != nil {
		return out
	}
	e.storeSwitch(ctx, req.StoreID)
	if out := e.patientSearch(ctx, req); out != nil {
		return out
	}
	if out := e.navigate(ctx); out != nil {
		return out
	}
	if out := e.fillForm(ctx, req); out != nil {
		return out
	}
	if out := e.submit(ctx); out != nil {
		return out
	}
	return models.Succeeded()
}

func (e *Engine) login(ctx context.Context, creds models.Credentials) *models.Outcome {
	e.report(StageLogin, "logging in to "+creds.URL)

	steps := []func(context.Context) error{
		func(c context.Context) error { return e.client.Navigate(c, creds.URL) },
		func(c context.Context) error { return e.client.Fill(c, locAccount, creds.Username) },
		func(c context.Context) error { return e.client.Fill(c, locPassword, creds.Password) },
		func(c context.Context) error { return e.client.Click(c, locLoginSubmit) },
	}
	for _, step := range steps {
		if err := e.step(ctx, step); err != nil {
			return failure(models.ErrorKindLogin, fmt.Sprintf("login step failed: %v", err))
		}
	}

	// The login form disappearing is the success signal. If it is still
	// present after the wait, the alert message (wrong password, locked
	// account) is the best diagnostic we have.
	_ = e.client.WaitFor(ctx, locAccount, WaitHidden, e.timings.StepTimeout)
	count, err := e.locatorCount(ctx, locAccount)
	if err != nil {
		return failure(models.ErrorKindLogin, fmt.Sprintf("login verification failed: %v", err))
	}
	if count > 0 {
		msg := e.takeAlert()
		if msg == "" {
			msg = "login form still present after submit"
		}
		return failure(models.ErrorKindLogin, msg)
	}
	return nil
}

// storeSwitch handles the active-store popup when it appears. Every
// failure here is non-fatal: the session proceeds on whatever store the
// CRM settled on, and the log carries the warning.
func (e *Engine) storeSwitch(ctx context.Context, storeID string) {
	e.report(StageStoreSwitch, "checking for store switch popup")

	if err := e.client.WaitFor(ctx, locStorePopup, WaitVisible, e.timings.PopupAppear); err != nil {
		e.log.Debug().Msg("no store switch popup")
		return
	}
	if storeID == "" {
		e.log.Info().Msg("store popup shown, no store configured, keeping default")
		return
	}
	if err := e.step(ctx, func(c context.Context) error {
		return e.client.SelectOption(c, locStoreSelect, storeID)
	}); err != nil {
		e.log.Warn().Err(err).Str("store_id", storeID).Msg("store select failed")
		return
	}
	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Click(c, locStoreConfirm)
	}); err != nil {
		e.log.Warn().Err(err).Msg("store confirm failed")
		return
	}
	if err := e.client.WaitFor(ctx, locStorePopup, WaitHidden, e.timings.PopupClose); err != nil {
		e.log.Warn().Err(err).Msg("store popup did not close, continuing")
	}
}

func (e *Engine) patientSearch(ctx context.Context, req *models.AutomationRequest) *models.Outcome {
	e.report(StagePatientSearch, "searching for "+req.PatientName)

	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Click(c, locSearchTab)
	}); err != nil {
		return failure(models.ErrorKindNavigation, fmt.Sprintf("name+birth search tab: %v", err))
	}
	e.sleep(ctx, e.timings.TabDelay)

	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Fill(c, locSearchName, req.PatientName)
	}); err != nil {
		return failure(models.ErrorKindNavigation, fmt.Sprintf("fill patient name: %v", err))
	}

	if year, month, day, ok := splitBirthDate(req.BirthDate); ok {
		for _, sel := range []struct{ loc, val string }{
			{locBirthYear, year},
			{locBirthMonth, month},
			{locBirthDay, day},
		} {
			sel := sel
			if err := e.step(ctx, func(c context.Context) error {
				return e.client.SelectOption(c, sel.loc, sel.val)
			}); err != nil {
				e.log.Warn().Err(err).Str("locator", sel.loc).Msg("birth date select failed")
			}
		}
	}

	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Click(c, locSearchGo)
	}); err != nil {
		return failure(models.ErrorKindNavigation, fmt.Sprintf("fire patient search: %v", err))
	}
	e.sleep(ctx, e.timings.SearchSettle)

	link := patientLinkLocator(req.PatientName)
	count, err := e.locatorCount(ctx, link)
	if err != nil {
		return failure(models.ErrorKindNavigation, fmt.Sprintf("read search results: %v", err))
	}
	switch {
	case count == 0:
		return failure(models.ErrorKindPatientNotFound,
			fmt.Sprintf("no patient matched name=%s birth=%s", req.PatientName, req.BirthDate))
	case count > 1:
		names, terr := e.client.TextContents(ctx, link)
		if terr != nil {
			e.log.Warn().Err(terr).Msg("could not read duplicate candidates")
		}
		if len(names) > maxDuplicateCandidates {
			names = names[:maxDuplicateCandidates]
		}
		// Never auto-pick between ambiguous records.
		return failure(models.ErrorKindDuplicatePatient,
			fmt.Sprintf("%d patients matched name=%s: %s", count, req.PatientName, strings.Join(names, ", ")))
	}

	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Click(c, link)
	}); err != nil {
		return failure(models.ErrorKindNavigation, fmt.Sprintf("open patient record: %v", err))
	}
	return nil
}

func (e *Engine) navigate(ctx context.Context) *models.Outcome {
	e.report(StageNavigate, "opening hearing report form")

	for _, loc := range []string{locHearingTab, locAddReport} {
		if err := e.clickWithRetry(ctx, loc); err != nil {
			return failure(models.ErrorKindNavigation, fmt.Sprintf("navigate %s: %v", loc, err))
		}
	}
	return nil
}

// clickWithRetry retries transient click failures on page chrome that
// renders late. Attempts are bounded; the last error is returned.
func (e *Engine) clickWithRetry(ctx context.Context, locator string) error {
	var err error
	for attempt := 0; attempt < e.navRetries; attempt++ {
		if attempt > 0 {
			e.sleep(ctx, e.timings.NavBackoff)
		}
		if err = e.step(ctx, func(c context.Context) error {
			return e.client.Click(c, locator)
		}); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Debug().Err(err).Str("locator", locator).Int("attempt", attempt+1).Msg("click retry")
	}
	return err
}

func (e *Engine) submit(ctx context.Context) *models.Outcome {
	e.report(StageSubmit, "submitting report")

	if err := e.step(ctx, func(c context.Context) error {
		return e.client.Click(c, locSubmit)
	}); err != nil {
		return failure(models.ErrorKindSubmit, fmt.Sprintf("submit click: %v", err))
	}
	if alert := e.takeAlert(); alert != "" && looksLikeRejection(alert) {
		return failure(models.ErrorKindSubmit, alert)
	}
	e.sleep(ctx, e.timings.Settle)
	return nil
}

// step runs one browser interaction under the per-step timeout.
func (e *Engine) step(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.timings.StepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (e *Engine) locatorCount(ctx context.Context, locator string) (int, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.timings.StepTimeout)
	defer cancel()
	return e.client.LocatorCount(stepCtx, locator)
}

func (e *Engine) report(stage Stage, message string) {
	e.log.Info().Str("stage", string(stage)).Msg(message)
	if e.progress != nil {
		go e.progress(stage, message)
	}
}

func (e *Engine) takeAlert() string {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	msg := e.lastAlert
	e.lastAlert = ""
	return msg
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func failure(kind models.ErrorKind, message string) *models.Outcome {
	return models.Failed(kind, message)
}

// patientLinkLocator matches the result links whose title carries the
// patient name.
func patientLinkLocator(name string) string {
	return fmt.Sprintf(`a[title*=%q]`, name)
}

// splitBirthDate breaks YYYY-MM-DD into the year/month/day option values
// the search dropdowns expect. Month and day options carry no leading
// zeros.
func splitBirthDate(birth string) (year, month, day string, ok bool) {
	parts := strings.SplitN(birth, "-", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	month = strings.TrimLeft(parts[1], "0")
	day = strings.TrimLeft(parts[2], "0")
	if parts[0] == "" || month == "" || day == "" {
		return "", "", "", false
	}
	return parts[0], month, day, true
}

// looksLikeRejection filters the alerts worth failing a submit over:
// confirmation alerts are accepted silently, anything mentioning failure
// or error is not.
func looksLikeRejection(alert string) bool {
	lower := strings.ToLower(alert)
	for _, marker := range []string{"fail", "error", "錯誤", "失敗"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var errFieldAbsent = errors.New("field not present on form")
