package slack

import (
	"context"
	"fmt"
	"testing"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/trellis/internal/notify"
)

type mockClient struct {
	calls   int
	channel string
	err     error
}

func (m *mockClient) PostMessageContext(_ context.Context, channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channel = channelID
	return "", "", m.err
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Error("New without token accepted")
	}
	if _, err := New(Opts{Token: "xoxb-x"}); err == nil {
		t.Error("New without channel accepted")
	}
	if _, err := New(Opts{Client: &mockClient{}, ChannelID: "C1"}); err != nil {
		t.Errorf("New with injected client: %v", err)
	}
}

func TestSend(t *testing.T) {
	mock := &mockClient{}
	sink, err := New(Opts{Client: mock, ChannelID: "C42"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := notify.Notification{Recipients: []string{"u-a"}, Template: "status_changed"}
	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mock.calls != 1 || mock.channel != "C42" {
		t.Errorf("mock = %+v", mock)
	}
}

func TestSend_WrapsError(t *testing.T) {
	mock := &mockClient{err: fmt.Errorf("rate limited")}
	sink, _ := New(Opts{Client: mock, ChannelID: "C1"})
	err := sink.Send(context.Background(), notify.Notification{Template: "x"})
	if err == nil {
		t.Fatal("Send swallowed error")
	}
}
