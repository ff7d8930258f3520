package websocket

import (
	"context"
	"errors"
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/service"
	"github.com/garyjia/ad-pipeline/internal/domain/apperror"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
)

type mockResolver struct {
	calls []service.ResolveInput
	err   error
}

func (m *mockResolver) Resolve(ctx context.Context, in service.ResolveInput) (*entity.TaskInstance, *entity.ApprovalRecord, error) {
	m.calls = append(m.calls, in)
	if m.err != nil {
		return nil, nil, m.err
	}
	return &entity.TaskInstance{ID: 7, Name: "Storyboard"}, &entity.ApprovalRecord{ID: in.ApprovalID}, nil
}

type reply struct {
	to      string
	content string
}

type mockSender struct {
	sent []reply
}

func (m *mockSender) SendMessage(ctx context.Context, userID, content string) error {
	m.sent = append(m.sent, reply{to: userID, content: content})
	return nil
}

func newTestAdapter(resolver *mockResolver, sender *mockSender) *LarkAdapter {
	return NewLarkAdapter(LarkAdapterConfig{AppID: "cli_x", AppSecret: "s", Reviewers: []string{"ou_lead"}},
		resolver, sender, zap.NewNop())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		ok       bool
		decision entity.Decision
		id       int64
		comment  string
		wantErr  bool
	}{
		{"approve 12", true, entity.DecisionApprove, 12, "", false},
		{"  Reject #12 logo is cut off ", true, entity.DecisionReject, 12, "logo is cut off", false},
		{"approve", true, entity.DecisionApprove, 0, "", true},
		{"approve twelve", true, entity.DecisionApprove, 0, "", true},
		{"reject -3 no", true, entity.DecisionReject, 0, "", true},
		{"hello there", false, "", 0, "", false},
		{"", false, "", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, ok := parseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.decision, cmd.decision)
			if tt.wantErr {
				assert.Error(t, cmd.err)
				return
			}
			require.NoError(t, cmd.err)
			assert.Equal(t, tt.id, cmd.approvalID)
			assert.Equal(t, tt.comment, cmd.comment)
		})
	}
}

func TestHandleCommand_ResolvesForReviewer(t *testing.T) {
	resolver := &mockResolver{}
	sender := &mockSender{}
	a := newTestAdapter(resolver, sender)

	a.HandleCommand(context.Background(), "ou_lead", "reject 12 wrong aspect ratio")

	require.Len(t, resolver.calls, 1)
	assert.Equal(t, service.ResolveInput{
		ApprovalID: 12,
		Decision:   entity.DecisionReject,
		Comment:    "wrong aspect ratio",
		ReviewerID: "ou_lead",
	}, resolver.calls[0])
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ou_lead", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].content, `reject recorded for task "Storyboard"`)
}

func TestHandleCommand_Refusals(t *testing.T) {
	tests := []struct {
		name        string
		sender      string
		text        string
		resolverErr error
		wantCalls   int
		wantReply   string
	}{
		{"non-reviewer", "ou_artist", "approve 12", nil, 0, "not a reviewer"},
		{"usage error", "ou_lead", "approve", nil, 0, "usage: approve"},
		{"domain error", "ou_lead", "approve 99", apperror.NotFound("resolve", "no pending approval %d", 99), 1, "no pending approval 99"},
		{"internal error", "ou_lead", "approve 12", errors.New("database is locked"), 1, "internal error"},
		{"chatter", "ou_lead", "thanks!", nil, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{err: tt.resolverErr}
			sender := &mockSender{}
			newTestAdapter(resolver, sender).HandleCommand(context.Background(), tt.sender, tt.text)

			assert.Len(t, resolver.calls, tt.wantCalls)
			if tt.wantReply == "" {
				assert.Empty(t, sender.sent)
				return
			}
			require.Len(t, sender.sent, 1)
			assert.Contains(t, sender.sent[0].content, tt.wantReply)
		})
	}
}

func TestOnMessage(t *testing.T) {
	str := func(s string) *string { return &s }
	message := func(msgType, content string) *larkim.P2MessageReceiveV1 {
		return &larkim.P2MessageReceiveV1{
			Event: &larkim.P2MessageReceiveV1Data{
				Sender:  &larkim.EventSender{SenderId: &larkim.UserId{OpenId: str("ou_lead")}},
				Message: &larkim.EventMessage{MessageType: str(msgType), Content: str(content)},
			},
		}
	}

	resolver := &mockResolver{}
	a := newTestAdapter(resolver, &mockSender{})
	ctx := context.Background()

	require.NoError(t, a.onMessage(ctx, message("text", `{"text":"approve 5 ship it"}`)))
	require.NoError(t, a.onMessage(ctx, message("image", `{"image_key":"img_x"}`)))
	require.NoError(t, a.onMessage(ctx, message("text", `not json`)))
	require.NoError(t, a.onMessage(ctx, &larkim.P2MessageReceiveV1{}))

	require.Len(t, resolver.calls, 1)
	assert.Equal(t, int64(5), resolver.calls[0].ApprovalID)
	assert.Equal(t, "ship it", resolver.calls[0].Comment)
}

func TestLarkAdapter_StopBeforeStart(t *testing.T) {
	a := newTestAdapter(&mockResolver{}, &mockSender{})
	assert.False(t, a.IsRunning())
	assert.NoError(t, a.Stop())
}
