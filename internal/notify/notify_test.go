package notify

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-session/internal/models"
)

// fakeChannel 记录调用的假通道
type fakeChannel struct {
	name  string
	err   error
	calls []Notification
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(n Notification) error {
	f.calls = append(f.calls, n)
	return f.err
}

// fakePublisher 记录发布的假 MQTT 客户端
type fakePublisher struct {
	failTopics map[string]error
	published  []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if err, ok := f.failTopics[topic]; ok {
		return err
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload})
	return nil
}

func testNotification(kind models.AlertType) Notification {
	return Notification{
		Kind:        kind,
		PatientName: "Patient 1",
		PatientBed:  "Bed 1",
		Elapsed:     "05:00",
	}
}

func TestDispatch_FailingChannelDoesNotBlockOthers(t *testing.T) {
	tone := &fakeChannel{name: "tone", err: errors.New("audio blocked")}
	banner := &fakeChannel{name: "banner"}
	native := &fakeChannel{name: "native"}

	d := NewDispatcher(zap.NewNop(), tone, banner, native)
	d.Dispatch(testNotification(models.AlertNeedles))

	// 一个通道失败不影响其余通道
	assert.Len(t, tone.calls, 1)
	assert.Len(t, banner.calls, 1)
	assert.Len(t, native.calls, 1)
}

func TestToneChannel_FrequencyPerKind(t *testing.T) {
	tests := []struct {
		kind models.AlertType
		freq int
		gain float64
	}{
		{models.AlertNeedles, 600, 0.2},
		{models.AlertPulse, 400, 0.2},
		{models.AlertSession, 800, 0.3},
	}

	for _, tt := range tests {
		pub := &fakePublisher{}
		ch := NewToneChannel(pub, "session/notify/tone", "", 1)

		require.NoError(t, ch.Send(testNotification(tt.kind)))
		require.Len(t, pub.published, 1)

		var payload tonePayload
		require.NoError(t, json.Unmarshal(pub.published[0].payload, &payload))
		assert.Equal(t, tt.freq, payload.Frequency)
		assert.Equal(t, tt.gain, payload.Gain)
		assert.Equal(t, 500, payload.DurationMs)
	}
}

func TestToneChannel_FallbackOnPrimaryFailure(t *testing.T) {
	pub := &fakePublisher{
		failTopics: map[string]error{"primary": errors.New("rejected")},
	}
	ch := NewToneChannel(pub, "primary", "fallback", 1)

	require.NoError(t, ch.Send(testNotification(models.AlertPulse)))
	require.Len(t, pub.published, 1)
	assert.Equal(t, "fallback", pub.published[0].topic)
}

func TestToneChannel_BothPathsFail(t *testing.T) {
	pub := &fakePublisher{
		failTopics: map[string]error{
			"primary":  errors.New("rejected"),
			"fallback": errors.New("rejected"),
		},
	}
	ch := NewToneChannel(pub, "primary", "fallback", 1)

	assert.Error(t, ch.Send(testNotification(models.AlertPulse)))
}

func TestNativeChannel_FirstFireOnly(t *testing.T) {
	pub := &fakePublisher{}
	ch := NewNativeChannel(pub, "session/notify/push", 1, true)

	n := testNotification(models.AlertNeedles)
	require.NoError(t, ch.Send(n))
	assert.Len(t, pub.published, 1)

	// 重播不发原生推送
	n.Reannounce = true
	require.NoError(t, ch.Send(n))
	assert.Len(t, pub.published, 1)
}

func TestNativeChannel_RequiresPermission(t *testing.T) {
	pub := &fakePublisher{}
	ch := NewNativeChannel(pub, "session/notify/push", 1, false)

	require.NoError(t, ch.Send(testNotification(models.AlertSession)))
	assert.Empty(t, pub.published)
}

func TestNotification_TitleAndBody(t *testing.T) {
	n := testNotification(models.AlertNeedles)
	assert.Equal(t, "Alert: Change Needles", n.Title())
	assert.Equal(t, "Patient 1 (Bed 1) - 05:00", n.Body())

	n.Kind = models.AlertPulse
	assert.Equal(t, "Alert: Check Pulse", n.Title())

	n.Kind = models.AlertSession
	assert.Equal(t, "Session Complete", n.Title())
	assert.Equal(t, "Patient 1 (Bed 1) - session complete", n.Body())
}
