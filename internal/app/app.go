// Package app assembles the service from configuration.
//
// Setup builds every component in dependency order (trace export, market
// client, web search, stores, prompt store, Genkit, agent, chat service)
// and returns an App holding them. App.Close releases everything in
// reverse order; a failed Setup cleans up whatever was already built.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finquery/finquery/internal/agent"
	"github.com/finquery/finquery/internal/cache"
	"github.com/finquery/finquery/internal/chat"
	"github.com/finquery/finquery/internal/config"
	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/prompt"
	"github.com/finquery/finquery/internal/session"
	"github.com/finquery/finquery/internal/websearch"
)

// App is the assembled service. Fields are set by Setup; a nil field means
// configuration disabled that component (Agent without ai.enabled, DBPool
// without database.url, Search without search.enabled).
type App struct {
	Config *config.Config

	Market   *market.Client
	Search   *websearch.Client
	Sessions *session.Store
	Cache    *cache.Store
	Prompts  prompt.Store
	DBPool   *pgxpool.Pool

	Genkit *genkit.Genkit
	Agent  *agent.Agent

	Chat *chat.Service
	Flow *chat.Flow

	cancel      context.CancelFunc // stops the janitors
	janitors    sync.WaitGroup
	dbCleanup   func()
	otelCleanup func()
}

// Close releases resources in reverse construction order: the janitors
// first, then the market session, the database pool, and finally the trace
// exporter flush. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.janitors.Wait()

	var closeErr error
	if a.Market != nil {
		closeErr = a.Market.Close()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	if closeErr != nil {
		return fmt.Errorf("closing market client: %w", closeErr)
	}
	return nil
}
