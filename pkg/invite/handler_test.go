package invite

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/invite-mailer/pkg/config"
	"github.com/telekom/invite-mailer/pkg/mail"
	"github.com/telekom/invite-mailer/pkg/mail/mailtest"
	"github.com/telekom/invite-mailer/pkg/metrics"
	"github.com/telekom/invite-mailer/pkg/system"
)

func testEnv(template string) map[string]string {
	return map[string]string{
		"host":       "smtp.example.com",
		"port":       "465",
		"user":       "mailer@example.com",
		"passwd":     "s3cret",
		"sender":     "noreply@example.com",
		"template":   base64.StdEncoding.EncodeToString([]byte(template)),
		"project_id": "42",
	}
}

type handlerFixture struct {
	handler *Handler
	server  *mailtest.Server
	logs    *observer.ObservedLogs
	configs []config.Config
}

func newFixture(t *testing.T, vars map[string]string, server *mailtest.Server) *handlerFixture {
	t.Helper()
	if server == nil {
		server = &mailtest.Server{}
	}
	log, logs := system.NewObservedLogger()
	f := &handlerFixture{server: server, logs: logs}
	f.handler = NewHandler(log,
		WithEnvironment(vars),
		WithDialer(func(cfg config.Config) mail.Dialer {
			f.configs = append(f.configs, cfg)
			return server
		}),
	)
	f.handler.sleep = func(context.Context, time.Duration) error {
		t.Fatal("unexpected debug sleep")
		return nil
	}
	return f
}

func (f *handlerFixture) invoke(t *testing.T, payload string) Response {
	t.Helper()
	resp, err := f.handler.Handle(context.Background(), json.RawMessage(payload))
	require.NoError(t, err, "Handle never returns an error")
	return resp
}

func (f *handlerFixture) sentLines() []observer.LoggedEntry {
	return f.logs.FilterMessage("Email sent").All()
}

func TestHandle_InvalidInput(t *testing.T) {
	payloads := []string{
		"",
		"null",
		"{}",
		`{"recipients": []}`,
		`{"subject": "Hi"}`,
		`{"one_role": "admin"}`,
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			f := newFixture(t, testEnv("Hello {{ recipient.email }}"), nil)
			before := testutil.ToFloat64(metrics.Invocations.WithLabelValues(OutcomeInvalidInput))

			resp := f.invoke(t, payload)

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, `"Specify recipients in event"`, resp.Body)
			assert.Equal(t, MessageSpecifyRecipients, resp.Message())
			assert.Equal(t, 0, f.server.Dials(), "no connection for invalid input")
			assert.Empty(t, f.logs.FilterFieldKey("stacktrace").All(), "validation failures carry no stacktrace")
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.Invocations.WithLabelValues(OutcomeInvalidInput)))
		})
	}
}

func TestHandle_SendsOnePerRecipientInOrder(t *testing.T) {
	f := newFixture(t, testEnv("Hello {{ recipient.email }}"), nil)

	resp := f.invoke(t, `{"recipients": [{"email": "a@x.com"}, {"email": "b@x.com"}]}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"Email sent"`, resp.Body)
	assert.True(t, resp.OK())

	assert.Equal(t, 1, f.server.Dials(), "one session for the whole batch")
	assert.Equal(t, 1, f.server.Closes())

	msgs := f.server.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"a@x.com"}, msgs[0].To)
	assert.Equal(t, []string{"b@x.com"}, msgs[1].To)
	assert.Contains(t, msgs[0].Raw, "Hello a@x.com")
	assert.Contains(t, msgs[1].Raw, "Hello b@x.com")
	for _, m := range msgs {
		assert.Equal(t, "noreply@example.com", m.From)
		assert.Contains(t, m.Raw, "Subject: "+DefaultSubject)
		assert.Contains(t, m.Raw, "From: noreply@example.com")
	}

	lines := f.sentLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "a@x.com", lines[0].ContextMap()["recipient"])
	assert.Equal(t, "b@x.com", lines[1].ContextMap()["recipient"])
}

func TestHandle_ShorthandMatchesRecipientList(t *testing.T) {
	tmpl := "{{ recipient.email }} as {{#recipient.roles}}{{.}}{{/recipient.roles}}"

	short := newFixture(t, testEnv(tmpl), nil)
	resp := short.invoke(t, `{"one_recipient": "c@x.com", "one_role": "admin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := newFixture(t, testEnv(tmpl), nil)
	resp = list.invoke(t, `{"recipients": [{"email": "c@x.com", "roles": ["admin"]}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	shortMsgs, listMsgs := short.server.Messages(), list.server.Messages()
	require.Len(t, shortMsgs, 1)
	require.Len(t, listMsgs, 1)
	assert.Equal(t, listMsgs[0].To, shortMsgs[0].To)
	assert.Contains(t, shortMsgs[0].Raw, "c@x.com as admin")
	assert.Contains(t, listMsgs[0].Raw, "c@x.com as admin")
}

func TestHandle_AuthFailure(t *testing.T) {
	f := newFixture(t, testEnv("Hello"), &mailtest.Server{DialErr: mailtest.ErrAuth})

	resp := f.invoke(t, `{"recipients": [{"email": "a@x.com"}]}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Message(), "Authentication credentials invalid")
	assert.Empty(t, f.server.Messages())

	failures := f.logs.FilterMessage("Failed to send invitations").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.Equal(t, string(StageSession), fields["stage"])
	assert.NotEmpty(t, fields["stacktrace"], "operators get the full trace")
}

func TestHandle_FailureMidBatchIsNotRolledBack(t *testing.T) {
	f := newFixture(t, testEnv("Hello {{ recipient.email }}"), &mailtest.Server{
		FailOnSend: 3,
		SendErr:    errors.New("552 mailbox full"),
	})

	resp := f.invoke(t, `{"recipients": [
		{"email": "1@x.com"}, {"email": "2@x.com"}, {"email": "3@x.com"}, {"email": "4@x.com"}, {"email": "5@x.com"}
	]}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Message(), "552 mailbox full")
	assert.Contains(t, resp.Message(), "3@x.com")
	assert.Equal(t, []string{"1@x.com", "2@x.com"}, f.server.Recipients())
	assert.Equal(t, 1, f.server.Closes(), "session closed on early exit")
	assert.Len(t, f.sentLines(), 2)
}

func TestHandle_TemplateVariablePrecedence(t *testing.T) {
	f := newFixture(t, testEnv("{{ email }}|{{ recipient.email }}|{{ project_id }}|{{ team }}"), nil)

	resp := f.invoke(t, `{
		"recipients": [{"email": "a@x.com"}],
		"email": "payload@x.com",
		"team": "core",
		"template_vars": {"team": "platform"}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := f.server.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Raw, "payload@x.com|a@x.com|42|platform")
}

func TestHandle_NotIdempotent(t *testing.T) {
	f := newFixture(t, testEnv("Hello {{ recipient.email }}"), nil)
	payload := `{"recipients": [{"email": "a@x.com"}, {"email": "b@x.com"}]}`

	first := f.invoke(t, payload)
	second := f.invoke(t, payload)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, 2, f.server.Dials())
	assert.Equal(t, []string{"a@x.com", "b@x.com", "a@x.com", "b@x.com"}, f.server.Recipients())

	lines := f.sentLines()
	require.Len(t, lines, 4)
	firstID := lines[0].ContextMap()["invocationID"]
	secondID := lines[2].ContextMap()["invocationID"]
	assert.NotEmpty(t, firstID)
	assert.Equal(t, firstID, lines[1].ContextMap()["invocationID"])
	assert.Equal(t, secondID, lines[3].ContextMap()["invocationID"])
	assert.NotEqual(t, firstID, secondID, "each invocation sends its own batch")
}

func TestHandle_LambdaRequestID(t *testing.T) {
	f := newFixture(t, testEnv("Hello"), nil)
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})

	resp, err := f.handler.Handle(ctx, json.RawMessage(`{"one_recipient": "c@x.com"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := f.sentLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "req-123", lines[0].ContextMap()["invocationID"])
	assert.Equal(t, "lambda", lines[0].ContextMap()["source"])
}

func TestHandle_SenderFallback(t *testing.T) {
	tests := []struct {
		name         string
		sender       string
		user         string
		expectedFrom string
	}{
		{name: "explicit sender", sender: "noreply@example.com", user: "mailer@example.com", expectedFrom: "noreply@example.com"},
		{name: "falls back to username", user: "mailer@example.com", expectedFrom: "mailer@example.com"},
		{name: "no sender at all", expectedFrom: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := testEnv("Hello")
			vars["sender"] = tt.sender
			vars["user"] = tt.user
			f := newFixture(t, vars, nil)

			resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			msgs := f.server.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.expectedFrom, msgs[0].From)
			if tt.expectedFrom == "" {
				assert.NotContains(t, msgs[0].Raw, "From:")
			} else {
				assert.Contains(t, msgs[0].Raw, "From: "+tt.expectedFrom)
			}
		})
	}
}

func TestHandle_PasswordValueObject(t *testing.T) {
	vars := testEnv("Hello")
	vars["passwd"] = `{"value": "wrapped-secret"}`
	f := newFixture(t, vars, nil)

	resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, f.configs, 1)
	assert.Equal(t, config.Secret("wrapped-secret"), f.configs[0].Password)
	assert.Equal(t, "smtp.example.com:465", f.configs[0].Addr())
}

func TestHandle_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		expect string
	}{
		{name: "port not an integer", mutate: func(v map[string]string) { v["port"] = "smtps" }, expect: "smtps"},
		{name: "template not base64", mutate: func(v map[string]string) { v["template"] = "!!" }, expect: "base64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := testEnv("Hello")
			tt.mutate(vars)
			f := newFixture(t, vars, nil)

			resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Contains(t, resp.Message(), tt.expect)
			assert.Equal(t, 0, f.server.Dials())
		})
	}
}

func TestHandle_TemplateParseError(t *testing.T) {
	f := newFixture(t, testEnv("{{#open}}never closed"), nil)

	resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, f.server.Dials(), "template is parsed before connecting")
}

func TestHandle_MalformedRecipient(t *testing.T) {
	f := newFixture(t, testEnv("Hello {{ recipient.email }}"), nil)

	resp := f.invoke(t, `{"recipients": [{"email": "a@x.com"}, {"name": "no address"}]}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Message(), "recipient 2 has no email address")
	assert.Equal(t, []string{"a@x.com"}, f.server.Recipients())
	assert.Equal(t, 1, f.server.Closes())
}

func TestHandle_GoTemplateEngine(t *testing.T) {
	vars := testEnv(`Hi {{ .recipient.email | upper }} ({{ .project_id }})`)
	vars["template_engine"] = config.EngineGoTemplate
	f := newFixture(t, vars, nil)

	resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := f.server.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Raw, "Hi C@X.COM (42)")
}

func TestHandle_CustomSubject(t *testing.T) {
	f := newFixture(t, testEnv("Hello"), nil)

	resp := f.invoke(t, `{"one_recipient": "c@x.com", "subject": "Join the platform team"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := f.server.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Raw, "Subject: Join the platform team")
}

func TestHandle_DebugSleep(t *testing.T) {
	vars := testEnv("Hello")
	vars[config.DebugSleepKey] = "2"
	f := newFixture(t, vars, nil)

	var slept []time.Duration
	f.handler.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestHandle_DebugSleepIgnoresNonInteger(t *testing.T) {
	vars := testEnv("Hello")
	vars[config.DebugSleepKey] = "a while"
	// newFixture fails the test if sleep is called
	f := newFixture(t, vars, nil)

	resp := f.invoke(t, `{"one_recipient": "c@x.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_DebugSleepHappensBeforeValidation(t *testing.T) {
	vars := testEnv("Hello")
	vars[config.DebugSleepKey] = "1"
	f := newFixture(t, vars, nil)

	calls := 0
	f.handler.sleep = func(context.Context, time.Duration) error {
		calls++
		return nil
	}

	resp := f.invoke(t, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestHandle_CancelledDuringDebugSleep(t *testing.T) {
	vars := testEnv("Hello")
	vars[config.DebugSleepKey] = "30"
	f := newFixture(t, vars, nil)
	f.handler.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := f.handler.Handle(ctx, json.RawMessage(`{"one_recipient": "c@x.com"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, strings.Contains(resp.Message(), "context canceled"))
	assert.Equal(t, 0, f.server.Dials())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
