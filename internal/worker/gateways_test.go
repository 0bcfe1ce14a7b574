package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/circuitbreaker"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/sns"
)

type fakeProvider struct {
	name string
	err  error
	mu   sync.Mutex
	sent []*EmailRequest
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Send(_ context.Context, req *EmailRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	return p.err
}

type fakeSES struct {
	input *ses.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeResend struct {
	params *resend.SendEmailRequest
}

func (f *fakeResend) SendWithContext(_ context.Context, p *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.params = p
	return &resend.SendEmailResponse{Id: "re-1"}, nil
}

func testMessage() Message {
	return Message{
		AlertID:       uuid.New(),
		ChannelSendID: uuid.New(),
		Subject:       "Practice starts in 15 minutes",
		Body:          "Bring your laptop",
		URL:           "https://example.com/scouting/field/",
	}
}

func TestEmailGateway(t *testing.T) {
	user := &db.User{ID: 1, FirstName: "Ada", LastName: "L", Email: "ada@example.com"}

	tests := []struct {
		name      string
		user      *db.User
		providers []EmailProvider
		want      Outcome
	}{
		{"delivered", user, []EmailProvider{&fakeProvider{name: "ses"}}, Delivered},
		{"no address", &db.User{ID: 2}, []EmailProvider{&fakeProvider{name: "ses"}}, RecipientIncapable},
		{"no providers", user, nil, NotConfigured},
		{"provider error", user, []EmailProvider{&fakeProvider{name: "ses", err: errors.New("throttled")}}, TransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewEmailGateway(NewProviderChain(zap.NewNop(), tt.providers...), zap.NewNop())
			res := g.Send(context.Background(), tt.user, testMessage())
			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s (%s)", res.Outcome, tt.want, res.Detail)
			}
		})
	}
}

func TestEmailGateway_RendersURL(t *testing.T) {
	p := &fakeProvider{name: "ses"}
	g := NewEmailGateway(NewProviderChain(zap.NewNop(), p), zap.NewNop())
	msg := testMessage()

	res := g.Send(context.Background(), &db.User{ID: 1, Username: "ada", Email: "ada@example.com"}, msg)
	if res.Outcome != Delivered {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	req := p.sent[0]
	if req.To != "ada@example.com" || req.Subject != msg.Subject {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.Text, msg.Body) || !strings.Contains(req.Text, msg.URL) {
		t.Errorf("text body missing content: %q", req.Text)
	}
	if !strings.Contains(req.HTML, `href="`+msg.URL+`"`) {
		t.Errorf("html body missing link: %q", req.HTML)
	}
	if !strings.Contains(req.Text, "Hi ada") {
		t.Errorf("text body missing greeting: %q", req.Text)
	}
}

func TestProviderChain_FallsBack(t *testing.T) {
	primary := &fakeProvider{name: "ses", err: errors.New("ses down")}
	fallback := &fakeProvider{name: "resend"}
	chain := NewProviderChain(zap.NewNop(), primary, fallback)

	name, err := chain.Send(context.Background(), &EmailRequest{To: "a@example.com"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if name != "resend" {
		t.Errorf("provider = %s, want resend", name)
	}
	if len(fallback.sent) != 1 {
		t.Errorf("fallback sends = %d, want 1", len(fallback.sent))
	}
}

func TestSESProvider(t *testing.T) {
	client := &fakeSES{}
	p := NewSESProvider(client, "alerts@example.com", zap.NewNop())

	err := p.Send(context.Background(), &EmailRequest{To: "a@example.com", Subject: "S", Text: "T", HTML: "<p>T</p>"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if aws.ToString(client.input.Source) != "alerts@example.com" {
		t.Errorf("source = %s", aws.ToString(client.input.Source))
	}
	if client.input.Message.Body.Html == nil || aws.ToString(client.input.Message.Body.Html.Data) != "<p>T</p>" {
		t.Error("html body not set")
	}
}

func TestResendProvider(t *testing.T) {
	client := &fakeResend{}
	p := NewResendProviderWithClient(client, "alerts@example.com", zap.NewNop())

	if err := p.Send(context.Background(), &EmailRequest{To: "a@example.com", Subject: "S", Text: "T"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if client.params.From != "alerts@example.com" || client.params.To[0] != "a@example.com" {
		t.Errorf("params = %+v", client.params)
	}
}

func TestCarrierTextGateway(t *testing.T) {
	tests := []struct {
		name   string
		user   *db.User
		want   Outcome
		wantTo string
	}{
		{"addressed", &db.User{Phone: "(555) 123-4567", PhoneGateway: "txt.example.net"}, Delivered, "5551234567@txt.example.net"},
		{"no phone", &db.User{PhoneGateway: "txt.example.net"}, RecipientIncapable, ""},
		{"no carrier", &db.User{Phone: "5551234567"}, RecipientIncapable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{name: "ses"}
			g := NewCarrierTextGateway(NewProviderChain(zap.NewNop(), p), zap.NewNop())

			res := g.Send(context.Background(), tt.user, testMessage())
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if tt.wantTo != "" && p.sent[0].To != tt.wantTo {
				t.Errorf("to = %s, want %s", p.sent[0].To, tt.wantTo)
			}
		})
	}
}

type fakePublisher struct {
	endpoint string
	payload  sns.Payload
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, endpoint string, payload sns.Payload) (string, error) {
	f.endpoint = endpoint
	f.payload = payload
	return "push-1", f.err
}

func TestPushGateway(t *testing.T) {
	msg := testMessage()

	t.Run("delivered", func(t *testing.T) {
		pub := &fakePublisher{}
		res := NewPushGateway(pub, zap.NewNop()).Send(context.Background(), &db.User{PushEndpoint: "arn:endpoint"}, msg)
		if res.Outcome != Delivered {
			t.Fatalf("outcome = %s", res.Outcome)
		}
		if pub.payload.Tag != msg.AlertID.String() || pub.payload.Title != msg.Subject {
			t.Errorf("payload = %+v", pub.payload)
		}
	})

	t.Run("no subscription", func(t *testing.T) {
		res := NewPushGateway(&fakePublisher{}, zap.NewNop()).Send(context.Background(), &db.User{}, msg)
		if res.Outcome != RecipientIncapable {
			t.Errorf("outcome = %s, want RecipientIncapable", res.Outcome)
		}
	})

	t.Run("disabled endpoint", func(t *testing.T) {
		pub := &fakePublisher{err: sns.ErrEndpointDisabled}
		res := NewPushGateway(pub, zap.NewNop()).Send(context.Background(), &db.User{PushEndpoint: "arn"}, msg)
		if res.Outcome != RecipientIncapable {
			t.Errorf("outcome = %s, want RecipientIncapable", res.Outcome)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("throttled")}
		res := NewPushGateway(pub, zap.NewNop()).Send(context.Background(), &db.User{PushEndpoint: "arn"}, msg)
		if res.Outcome != TransientFailure {
			t.Errorf("outcome = %s, want TransientFailure", res.Outcome)
		}
	})
}

func TestChatGateway_Mentions(t *testing.T) {
	var got chatPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	g := NewChatGateway(ChatConfig{WebhookURL: server.URL, SystemUserID: 99, RatePerSec: 1000}, zap.NewNop())

	tests := []struct {
		name string
		user *db.User
		want string
	}{
		{"platform id", &db.User{ID: 1, ChatPlatformID: "1234", FirstName: "Ada"}, "<@1234>"},
		{"full name", &db.User{ID: 2, FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{"system user", &db.User{ID: 99, ChatPlatformID: "1", FirstName: "System"}, AnonymousLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Send(context.Background(), tt.user, testMessage())
			if res.Outcome != Delivered {
				t.Fatalf("outcome = %s (%s)", res.Outcome, res.Detail)
			}
			if !strings.HasPrefix(got.Content, tt.want+":") {
				t.Errorf("content = %q, want prefix %q", got.Content, tt.want)
			}
		})
	}
}

func TestChatGateway_TruncatesContent(t *testing.T) {
	var got chatPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := NewChatGateway(ChatConfig{WebhookURL: server.URL, RatePerSec: 1000}, zap.NewNop())
	msg := testMessage()
	msg.Body = strings.Repeat("ü", 3000)

	if res := g.Send(context.Background(), &db.User{ID: 1, Username: "u"}, msg); res.Outcome != Delivered {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if n := utf8.RuneCountInString(got.Content); n != MaxChatMessageRunes {
		t.Errorf("content runes = %d, want %d", n, MaxChatMessageRunes)
	}
}

func TestChatGateway_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	user := &db.User{ID: 1}

	res := NewChatGateway(ChatConfig{WebhookURL: server.URL}, zap.NewNop()).Send(context.Background(), user, testMessage())
	if res.Outcome != TransientFailure {
		t.Errorf("outcome = %s, want TransientFailure", res.Outcome)
	}

	res = NewChatGateway(ChatConfig{}, zap.NewNop()).Send(context.Background(), user, testMessage())
	if res.Outcome != NotConfigured {
		t.Errorf("outcome = %s, want NotConfigured", res.Outcome)
	}
}

func TestProtectedGateway(t *testing.T) {
	outcome := TransientFailure
	inner := GatewayFunc(func(context.Context, *db.User, Message) Result {
		if outcome == TransientFailure {
			return transient(errors.New("down"))
		}
		return Result{Outcome: outcome}
	})

	cfg := circuitbreaker.DefaultConfig("email")
	cfg.MaxFailures = 2
	p := NewProtectedGateway(inner, cfg, zap.NewNop())
	user := &db.User{ID: 1}

	p.Send(context.Background(), user, testMessage())
	p.Send(context.Background(), user, testMessage())

	if p.Breaker().GetState() != circuitbreaker.StateOpen {
		t.Fatalf("state = %s, want open", p.Breaker().GetState())
	}
	res := p.Send(context.Background(), user, testMessage())
	if res.Outcome != TransientFailure || !errors.Is(res.Err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("result = %+v, want open-circuit failure", res)
	}
}

func TestProtectedGateway_IncapableDoesNotTrip(t *testing.T) {
	inner := GatewayFunc(func(context.Context, *db.User, Message) Result {
		return incapable("no phone")
	})

	cfg := circuitbreaker.DefaultConfig("txt")
	cfg.MaxFailures = 1
	p := NewProtectedGateway(inner, cfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		if res := p.Send(context.Background(), &db.User{}, testMessage()); res.Outcome != RecipientIncapable {
			t.Fatalf("call %d outcome = %s", i, res.Outcome)
		}
	}
	if p.Breaker().GetState() != circuitbreaker.StateClosed {
		t.Errorf("state = %s, want closed", p.Breaker().GetState())
	}
}

func TestProtectAll_SkipsMessageStub(t *testing.T) {
	gateways, protected := ProtectAll(map[string]Gateway{
		db.ChannelEmail:   okGateway(),
		db.ChannelMessage: MessageGateway{},
	}, zap.NewNop())

	if len(protected) != 1 {
		t.Fatalf("protected = %d, want 1", len(protected))
	}
	if _, ok := gateways[db.ChannelMessage].(MessageGateway); !ok {
		t.Error("message gateway should not be wrapped")
	}
	if _, ok := gateways[db.ChannelEmail].(*ProtectedGateway); !ok {
		t.Error("email gateway should be wrapped")
	}
}
