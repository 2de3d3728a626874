package helpers

import (
	"testing"

	"github.com/Nemu-x/botlab/core/logger"

	tele "gopkg.in/telebot.v4"
)

func newUpdateContext(t *testing.T) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	return b.NewContext(tele.Update{ID: 5, Message: &tele.Message{
		Sender: &tele.User{ID: 7},
		Chat:   &tele.Chat{ID: 9},
		Text:   "hi",
	}})
}

func TestContextCarriesUpdateMeta(t *testing.T) {
	c := newUpdateContext(t)
	if m := MetaOf(c); m != (UpdateMeta{UpdateID: 5, UserID: 7, ChatID: 9}) {
		t.Fatalf("meta %+v", m)
	}

	ctx := BuildContext(c)
	if got := logger.RIDFrom(ctx); got != "5:9:7" {
		t.Fatalf("rid %q", got)
	}
	if logger.UserIDFrom(ctx) != 7 || logger.ChatIDFrom(ctx) != 9 || logger.UpdateIDFrom(ctx) != 5 {
		t.Fatalf("update meta missing from context")
	}
	if again := BuildContext(c); again != ctx {
		t.Fatal("context must be cached per update")
	}

	tagged := WithHandler(c, "start")
	if logger.HandlerFrom(tagged) != "start" {
		t.Fatalf("handler not tagged")
	}
	if cached, _ := ContextFrom(c); cached != tagged {
		t.Fatal("tagged context must replace the cached one")
	}
}

func TestRIDIsStable(t *testing.T) {
	c := newUpdateContext(t)
	c.Set("rid", "http:abc")
	if got := RID(c); got != "http:abc" {
		t.Fatalf("preset rid ignored: %q", got)
	}
	if got := logger.RIDFrom(NewContext(c)); got != "http:abc" {
		t.Fatalf("context rid %q", got)
	}
}
