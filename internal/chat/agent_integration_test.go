package chat_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pricefinder/pricefinder/internal/agent"
	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/pricefinder/pricefinder/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerAgainstAgentAPI(t *testing.T) {
	h := agent.NewHandler(agent.NewPriceFinderAgent(nil), nil)
	t.Cleanup(h.Close)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	reg := session.NewRegistry(nil, session.Options{})
	e, err := reg.Get(context.Background(), "client-int")
	require.NoError(t, err)
	c := chat.NewController(bridge.NewClient(srv.URL, 2*time.Second), reg, config.DefaultUI(), true)

	out, err := c.Send(context.Background(), e, "노트북")
	require.NoError(t, err)
	assert.Equal(t, chat.PhaseSucceeded, out.Phase)
	assert.Equal(t, "메시지 '노트북' 처리 중... (구현 예정)", out.Reply)

	out, err = c.Search(context.Background(), e, "노트북")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultUI().NoResultsMessage, out.Reply)
	assert.Len(t, e.Snapshot().Messages, 4)
}
