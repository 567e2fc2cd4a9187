package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"
)

type fakeBot struct {
	to   []string
	text []string
	err  error
}

func (f *fakeBot) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to = append(f.to, to.Recipient())
	f.text = append(f.text, what.(string))
	return &tele.Message{}, nil
}

func TestSend_ResolvesRecipient(t *testing.T) {
	bot := &fakeBot{}
	tr := newWithSender(Config{DefaultChatID: 99, Recipients: map[string]int64{"parent-1": 42}}, logx.Nop(), bot)

	require.NoError(t, tr.Send(context.Background(), immunization.Notification{Recipient: "parent-1", Title: "MMR <dose 1>", Message: "due tomorrow"}))
	require.NoError(t, tr.Send(context.Background(), immunization.Notification{Recipient: "other", Message: "x"}))

	assert.Equal(t, []string{"42", "99"}, bot.to)
	assert.Equal(t, "<b>MMR &lt;dose 1&gt;</b>\n\ndue tomorrow", bot.text[0])
}

func TestSend_Errors(t *testing.T) {
	tr := newWithSender(Config{}, logx.Nop(), &fakeBot{})
	assert.Error(t, tr.Send(context.Background(), immunization.Notification{Recipient: "nobody"}))

	tr = newWithSender(Config{DefaultChatID: 1}, logx.Nop(), &fakeBot{err: errors.New("429")})
	err := tr.Send(context.Background(), immunization.Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, immunization.MethodTelegram, tr.Method())
}
