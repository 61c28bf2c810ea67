package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Reply is one scripted response of the fake remote service
type Reply struct {
	Status     string
	Payload    interface{}
	HTTPStatus int
	// Raw, when set, is written as the body instead of an envelope
	Raw string
}

// Okay returns a successful envelope reply
func Okay(payload interface{}) Reply {
	return Reply{Status: "okay", Payload: payload}
}

// NotReady returns a non-terminal envelope reply
func NotReady(payload interface{}) Reply {
	return Reply{Status: "error", Payload: payload}
}

// Progress returns a non-terminal composed reply carrying a progress snapshot
func Progress(step string, processed, total int, partial interface{}) Reply {
	body := map[string]interface{}{"step": step, "processed": processed, "total": total}
	if partial != nil {
		body["partial"] = partial
	}
	return Reply{Status: "running", Payload: body}
}

// Failure returns an HTTP level failure
func Failure(code int) Reply {
	return Reply{HTTPStatus: code, Raw: http.StatusText(code)}
}

// Call is one request the fake received
type Call struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     []byte
}

// FakeRemote is an in-process remote query service. Replies scripted with
// On are served in order and the last one repeats.
type FakeRemote struct {
	Server *httptest.Server

	mu      sync.Mutex
	scripts map[string][]Reply
	calls   []Call
	hooks   map[string]func(Call)
}

// NewFakeRemote starts a fake service closed at test cleanup
func NewFakeRemote(t testing.TB) *FakeRemote {
	f := &FakeRemote{
		scripts: make(map[string][]Reply),
		hooks:   make(map[string]func(Call)),
	}
	r := chi.NewRouter()
	r.HandleFunc("/api/*", f.serve)
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL
func (f *FakeRemote) URL() string {
	return f.Server.URL + "/api"
}

// On scripts the replies of an endpoint, replacing earlier ones
func (f *FakeRemote) On(endpoint string, replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[endpoint] = replies
}

// OnCall registers a hook run before each reply for endpoint
func (f *FakeRemote) OnCall(endpoint string, hook func(Call)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[endpoint] = hook
}

// Calls returns the recorded calls of an endpoint
func (f *FakeRemote) Calls(endpoint string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of calls to an endpoint
func (f *FakeRemote) CallCount(endpoint string) int {
	return len(f.Calls(endpoint))
}

// TotalCalls returns the number of calls to any endpoint
func (f *FakeRemote) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *FakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "*")
	body, _ := io.ReadAll(r.Body)
	call := Call{Method: r.Method, Endpoint: endpoint, Query: r.URL.Query(), Body: body}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.hooks[endpoint]
	var reply Reply
	script, ok := f.scripts[endpoint]
	if ok && len(script) > 0 {
		reply = script[0]
		if len(script) > 1 {
			f.scripts[endpoint] = script[1:]
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode([]interface{}{"error", "no reply scripted for " + endpoint})
		return
	}
	if reply.Raw != "" {
		code := reply.HTTPStatus
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		_, _ = io.WriteString(w, reply.Raw)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.HTTPStatus != 0 {
		w.WriteHeader(reply.HTTPStatus)
	}
	_ = json.NewEncoder(w).Encode([]interface{}{reply.Status, reply.Payload})
}
