package crm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahflow/agent/internal/models"
)

// fakeBrowser is a deterministic scripted BrowserClient. Element presence
// is driven by counts: a locator missing from the map does not exist on
// the page. Click hooks simulate page transitions.
type fakeBrowser struct {
	mu         sync.Mutex
	counts     map[string]int
	texts      map[string][]string
	filled     map[string]string
	selected   map[string]string
	clicked    []string
	uploads    map[string]string
	navigated  []string
	clickHooks   map[string]func(b *fakeBrowser)
	failSelect   map[string]error
	failClick    map[string]error
	waitTimeouts map[string]time.Duration
	dialog       func(string)
	closed       bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		counts:       map[string]int{locAccount: 1},
		texts:        map[string][]string{},
		filled:       map[string]string{},
		selected:     map[string]string{},
		uploads:      map[string]string{},
		clickHooks:   map[string]func(b *fakeBrowser){},
		failSelect:   map[string]error{},
		failClick:    map[string]error{},
		waitTimeouts: map[string]time.Duration{},
	}
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = append(b.navigated, url)
	return nil
}

func (b *fakeBrowser) Fill(_ context.Context, locator, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filled[locator] = text
	return nil
}

func (b *fakeBrowser) SelectOption(_ context.Context, locator, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failSelect[locator]; err != nil {
		return err
	}
	b.selected[locator] = value
	return nil
}

func (b *fakeBrowser) Click(_ context.Context, locator string) error {
	b.mu.Lock()
	b.clicked = append(b.clicked, locator)
	failErr := b.failClick[locator]
	hook := b.clickHooks[locator]
	b.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if hook != nil {
		hook(b)
	}
	return nil
}

func (b *fakeBrowser) Upload(_ context.Context, locator, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[locator] = path
	return nil
}

func (b *fakeBrowser) WaitFor(_ context.Context, locator string, state WaitState, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitTimeouts[locator] = timeout
	visible := b.counts[locator] > 0
	if (state == WaitVisible) == visible {
		return nil
	}
	return fmt.Errorf("timeout waiting for %s to become %s", locator, state)
}

func (b *fakeBrowser) LocatorCount(_ context.Context, locator string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[locator], nil
}

func (b *fakeBrowser) TextContents(_ context.Context, locator string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.texts[locator], nil
}

func (b *fakeBrowser) OnDialog(handler func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialog = handler
}

func (b *fakeBrowser) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) raiseDialog(message string) {
	b.mu.Lock()
	handler := b.dialog
	b.mu.Unlock()
	if handler != nil {
		handler(message)
	}
}

func (b *fakeBrowser) clickedLocators() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicked...)
}

func (b *fakeBrowser) setCount(locator string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[locator] = n
}

// passLogin makes the login form disappear when the submit button is
// clicked, which the engine reads as a successful login.
func (b *fakeBrowser) passLogin() {
	b.clickHooks[locLoginSubmit] = func(fb *fakeBrowser) {
		fb.setCount(locAccount, 0)
	}
}

func testTimings() Timings {
	return Timings{
		StepTimeout:  100 * time.Millisecond,
		Settle:       time.Millisecond,
		SearchSettle: time.Millisecond,
		TabDelay:     time.Millisecond,
		NavBackoff:   time.Millisecond,
		PopupAppear:  5 * time.Millisecond,
		PopupClose:   5 * time.Millisecond,
	}
}

func testRequest(t *testing.T) *models.AutomationRequest {
	t.Helper()

	dir := t.TempDir()
	src := filepath.Join(dir, "export.xml")
	require.NoError(t, os.WriteFile(src, []byte("<HIMSAAudiometricStandard/>"), 0o644))

	session := &models.Session{
		Date:        "2024-12-14",
		PatientName: "游閔暘",
		BirthDate:   "1958-03-14",
		Measurements: map[string]string{
			"Tymp_Left_Compliance": "1.11",
			"Tymp_Left_Type":       "A",
			"PTA_Right_Air_1000":   "90NR",
		},
	}
	overrides := map[string]string{
		"InspectorName": "王小明",
	}
	creds := models.Credentials{URL: "https://crm.example.com/login", Username: "demo", Password: "secret"}
	return models.NewAutomationRequest(creds, "12", session, overrides, src)
}

func TestEngineSuccessfulRun(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()

	req := testRequest(t)
	link := patientLinkLocator(req.PatientName)
	browser.setCount(link, 1)
	browser.setCount("#InspectorName", 1)
	browser.setCount("#LeftEarCompliance", 1)
	browser.setCount("#LeftEarType", 1)
	browser.setCount("#RightEarAir_1000", 1)

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	require.True(t, out.Success, "run should succeed: %s", out.Message)
	assert.Equal(t, models.ErrorKindNone, out.Kind)

	assert.Equal(t, []string{"https://crm.example.com/login"}, browser.navigated)
	assert.Equal(t, "demo", browser.filled[locAccount])
	assert.Equal(t, "secret", browser.filled[locPassword])
	assert.Equal(t, "游閔暘", browser.filled[locSearchName])
	assert.Equal(t, "1958", browser.selected[locBirthYear])
	assert.Equal(t, "3", browser.selected[locBirthMonth], "month dropdown takes no leading zero")
	assert.Equal(t, "14", browser.selected[locBirthDay])

	clicked := browser.clickedLocators()
	assert.Contains(t, clicked, locSearchTab)
	assert.Contains(t, clicked, link)
	assert.Contains(t, clicked, locHearingTab)
	assert.Contains(t, clicked, locAddReport)
	assert.Contains(t, clicked, locSubmit)

	assert.Equal(t, "王小明", browser.filled["#InspectorName"])
	assert.Equal(t, "1.11", browser.filled["#LeftEarCompliance"])
	assert.Equal(t, "A", browser.filled["#LeftEarType"])
	assert.Equal(t, "90NR", browser.filled["#RightEarAir_1000"])

	assert.True(t, browser.closed, "browser must be closed after the run")

	require.NotEmpty(t, out.MovedTo)
	assert.Equal(t, "processed", filepath.Base(filepath.Dir(out.MovedTo)))
	_, err := os.Stat(out.MovedTo)
	assert.NoError(t, err)
	_, err = os.Stat(req.SourcePath)
	assert.True(t, os.IsNotExist(err), "source file should have moved")
}

func TestEngineLoginFailure(t *testing.T) {
	browser := newFakeBrowser()
	browser.clickHooks[locLoginSubmit] = func(fb *fakeBrowser) {
		fb.raiseDialog("帳號或密碼錯誤")
	}

	req := testRequest(t)
	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, models.ErrorKindLogin, out.Kind)
	assert.Equal(t, "帳號或密碼錯誤", out.Message, "alert text is surfaced verbatim")
	assert.Equal(t, "failed", filepath.Base(filepath.Dir(out.MovedTo)))
	assert.True(t, browser.closed)
}

func TestEnginePatientNotFound(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()

	req := testRequest(t)
	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, models.ErrorKindPatientNotFound, out.Kind)
	assert.Contains(t, out.Message, "游閔暘")
	assert.Contains(t, out.Message, "1958-03-14")
	assert.Equal(t, "failed", filepath.Base(filepath.Dir(out.MovedTo)))
}

func TestEngineDuplicatePatients(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()

	req := testRequest(t)
	link := patientLinkLocator(req.PatientName)
	browser.setCount(link, 3)
	browser.texts[link] = []string{"游閔暘 (10158)", "游閔暘 (20431)", "游閔暘 (33017)"}

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, models.ErrorKindDuplicatePatient, out.Kind)
	assert.Contains(t, out.Message, "10158")
	assert.Contains(t, out.Message, "33017")
	assert.NotContains(t, browser.clickedLocators(), link, "ambiguous matches are never auto-picked")
}

func TestEngineStoreSwitchFailureIsNonFatal(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()
	browser.setCount(locStorePopup, 1)
	browser.failSelect[locStoreSelect] = fmt.Errorf("select is disabled")

	req := testRequest(t)
	link := patientLinkLocator(req.PatientName)
	browser.setCount(link, 1)
	browser.setCount("#InspectorName", 1)

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	assert.True(t, out.Success, "store switch trouble must not fail the run: %s", out.Message)

	// The popup waits run on the configured pacing, not a fixed one.
	browser.mu.Lock()
	popupWait := browser.waitTimeouts[locStorePopup]
	browser.mu.Unlock()
	assert.Equal(t, testTimings().PopupClose, popupWait)
}

func TestEngineNavigateRetryExhausted(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()
	browser.failClick[locHearingTab] = fmt.Errorf("element is obscured")

	req := testRequest(t)
	browser.setCount(patientLinkLocator(req.PatientName), 1)

	engine := NewEngine(browser, WithTimings(testTimings()), WithNavRetries(3))
	out := engine.Run(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, models.ErrorKindNavigation, out.Kind)
	assert.Contains(t, out.Message, locHearingTab)
	assert.Contains(t, out.Message, "element is obscured")

	attempts := 0
	for _, loc := range browser.clickedLocators() {
		if loc == locHearingTab {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts, "retries are bounded")
	assert.NotContains(t, browser.clickedLocators(), locAddReport,
		"later navigation steps never run after a failed one")
	assert.Equal(t, "failed", filepath.Base(filepath.Dir(out.MovedTo)))
}

func TestEngineMissingInspectorFieldIsFatal(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()

	req := testRequest(t)
	browser.setCount(patientLinkLocator(req.PatientName), 1)
	// InspectorName control absent from the page.

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, models.ErrorKindNavigation, out.Kind)
	assert.Contains(t, out.Message, "inspector name")
}

func TestEngineRadioAndUploadFields(t *testing.T) {
	browser := newFakeBrowser()
	browser.passLogin()

	dir := t.TempDir()
	photo := filepath.Join(dir, "left.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpg"), 0o644))

	req := testRequest(t)
	req.Fields["Otoscopy_Left_Clean"] = "y"
	req.Fields["Otoscopy_Left_Image"] = photo
	req.Fields["Otoscopy_Right_Image"] = filepath.Join(dir, "missing.jpg")

	browser.setCount(patientLinkLocator(req.PatientName), 1)
	browser.setCount("#InspectorName", 1)
	browser.setCount("#LeftEarClean_Y", 1)
	browser.setCount("#LeftEarClean_N", 1)
	browser.setCount(".dev-upload-left-otoscopic", 1)
	browser.setCount(".dev-upload-right-otoscopic", 1)

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(context.Background(), req)
	require.True(t, out.Success, out.Message)

	clicked := browser.clickedLocators()
	assert.Contains(t, clicked, "#LeftEarClean_Y", "match is case-insensitive and hits the yes radio")
	assert.NotContains(t, clicked, "#LeftEarClean_N")

	assert.Equal(t, photo, browser.uploads[".dev-upload-left-otoscopic"])
	_, uploadedMissing := browser.uploads[".dev-upload-right-otoscopic"]
	assert.False(t, uploadedMissing, "missing upload files are skipped, not sent")
}

func TestEngineCanceledRunLeavesFileInPlace(t *testing.T) {
	browser := newFakeBrowser()
	// Login never completes: the form stays visible.

	req := testRequest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(browser, WithTimings(testTimings()))
	out := engine.Run(ctx, req)

	require.False(t, out.Success)
	assert.Empty(t, out.MovedTo)
	_, err := os.Stat(req.SourcePath)
	assert.NoError(t, err, "canceled runs must not relocate the source file")
}

func TestSplitBirthDate(t *testing.T) {
	tests := []struct {
		in                      string
		year, month, day        string
		ok                      bool
	}{
		{"1958-03-14", "1958", "3", "14", true},
		{"2001-10-05", "2001", "10", "5", true},
		{"", "", "", "", false},
		{"1990", "", "", "", false},
	}
	for _, tt := range tests {
		year, month, day, ok := splitBirthDate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.year, year, tt.in)
		assert.Equal(t, tt.month, month, tt.in)
		assert.Equal(t, tt.day, day, tt.in)
	}
}

func TestLooksLikeRejection(t *testing.T) {
	assert.True(t, looksLikeRejection("儲存失敗"))
	assert.True(t, looksLikeRejection("Server Error: invalid value"))
	assert.False(t, looksLikeRejection("儲存成功"))
	assert.False(t, looksLikeRejection(""))
}
