package pwauto

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
)

func TestTranslate_MapsPlaywrightSentinels(t *testing.T) {
	t.Parallel()

	err := translate(fmt.Errorf("locator.click: %w", playwright.ErrTimeout))
	assert.True(t, automation.IsTimeout(err))
	assert.ErrorIs(t, err, playwright.ErrTimeout)

	err = translate(fmt.Errorf("page.goto: %w", playwright.ErrTargetClosed))
	assert.True(t, automation.IsSessionFault(err))

	err = translate(errors.New(`locator.waitFor: Error: strict mode violation: locator('text=Bem-vindo') resolved to 2 elements`))
	assert.ErrorIs(t, err, automation.ErrStrictViolation)
	assert.False(t, automation.IsTimeout(err))

	plain := errors.New("boom")
	assert.Same(t, plain, translate(plain))
	assert.NoError(t, translate(nil))
}

func TestCall_StopsWaitingOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := call(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_ReturnsValue(t *testing.T) {
	t.Parallel()
	v, err := call(context.Background(), func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestOptionMapping(t *testing.T) {
	t.Parallel()
	assert.Nil(t, timeoutPtr(0))
	assert.Equal(t, 5000.0, *timeoutPtr(5*time.Second))
	assert.Equal(t, playwright.WaitUntilStateCommit, waitUntil(automation.LoadCommit))
	assert.Equal(t, playwright.WaitUntilStateDomcontentloaded, waitUntil(automation.LoadDOMContentLoaded))
	assert.Nil(t, loadState(automation.LoadCommit))
	assert.Equal(t, playwright.LoadStateNetworkidle, loadState(automation.LoadNetworkIdle))
	assert.Equal(t, playwright.WaitForSelectorStateAttached, selectorState(automation.ElementAttached))
	assert.Equal(t, playwright.WaitForSelectorStateVisible, selectorState(""))
}

const loginPage = `<!doctype html>
<html><head><title>Sistema de Registro</title></head>
<body>
<form id="login" onsubmit="event.preventDefault(); document.body.innerHTML = document.getElementById('senha').value === 'hunter2' ? '<h1>Bem-vindo ao Sistema de Registro</h1><nav><p>Bem-vindo ao Sistema de Registro</p><button disabled>Sair</button></nav>' : '<p>Credenciais inválidas</p>';">
  <div><input id="email" type="email"></div>
  <div><input id="senha" type="password"></div>
  <button id="entrar" type="submit">Entrar</button>
</form>
<iframe name="ads" srcdoc="<p>ad</p>"></iframe>
</body></html>`

// TestRunner_AgainstRealBrowser drives the runner through Chromium. It skips
// when the playwright driver or browser is not installed.
func TestRunner_AgainstRealBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage)
	}))
	defer srv.Close()

	launcher := &Launcher{}
	driver, err := launcher.Start(context.Background())
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	b, err := driver.Launch(context.Background(), automation.LaunchOptions{Headless: true})
	if err != nil {
		_ = driver.Stop()
		t.Skip("Could not launch browser:", err)
	}
	require.NoError(t, b.Close())
	require.NoError(t, driver.Stop())

	login := func(pw string) *scenario.Scenario {
		return scenario.MustNew("login", []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("#email", 0),
			scenario.Fill("simei@example.com"),
			scenario.Locate("#senha", 0),
			scenario.FillSecret(pw),
			scenario.Locate("#entrar", 0),
			scenario.Click(0),
			scenario.WaitForText("Bem-vindo ao Sistema de Registro", 3*time.Second),
			scenario.Assert(scenario.Predicate{Kind: scenario.TextContains, Selector: "nav p", Expected: "Bem-vindo"}, ""),
			scenario.Assert(scenario.Predicate{Kind: scenario.ContentNotContains, Expected: "<script"}, ""),
		})
	}
	r := runner.New(launcher, runner.Config{
		BaseURL:    srv.URL,
		Headless:   true,
		Viewport:   automation.Viewport{Width: 1280, Height: 720},
		LaunchArgs: runner.DefaultLaunchArgs,
	})

	res := r.Run(context.Background(), login("hunter2"))
	require.Equal(t, scenario.Passed, res.Outcome, res.Message)
	assert.Equal(t, "Sistema de Registro", res.LastTitle)

	res = r.Run(context.Background(), login("wrong"))
	assert.Equal(t, scenario.Failed, res.Outcome)
	assert.Contains(t, res.Message, "Bem-vindo")
	assert.Contains(t, res.Actual, "Credenciais inválidas")
}
