package mail

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSender_NeverLogsLink(t *testing.T) {
	log, hook := test.NewNullLogger()
	err := NewLogSender(log).Send(context.Background(), Message{
		To:   "buyer@example.com",
		Kind: KindPasswordReset,
		Link: "https://app.example.com/reset?token=secret-value",
	})
	require.NoError(t, err)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "b***@example.com", entry.Data["to"])
	s, _ := entry.String()
	assert.NotContains(t, s, "secret-value")
}

func TestBuildLink(t *testing.T) {
	assert.Equal(t, "https://app.example.com/reset-password?token=a%2Bb",
		BuildLink("https://app.example.com/", "/reset-password", "a+b"))
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "***@example.com", maskAddress("a@example.com"))
	assert.Equal(t, "***", maskAddress("nobody"))
}
