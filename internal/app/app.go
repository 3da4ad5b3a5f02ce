// Package app wires the trading system together: venue clients, the
// book and order-status caches, pair discovery, the opportunity
// scanner, the task engine with its guards, persistence, and the
// dashboard surface.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/chainfill"
	"github.com/mselser95/crossarb/internal/circuitbreaker"
	"github.com/mselser95/crossarb/internal/dashboard"
	"github.com/mselser95/crossarb/internal/discovery"
	"github.com/mselser95/crossarb/internal/executor"
	"github.com/mselser95/crossarb/internal/exposure"
	"github.com/mselser95/crossarb/internal/journal"
	"github.com/mselser95/crossarb/internal/matching"
	"github.com/mselser95/crossarb/internal/orderstatus"
	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/storage"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/internal/venue/predict"
	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/healthprobe"
	"github.com/mselser95/crossarb/pkg/httpserver"
	"github.com/mselser95/crossarb/pkg/wallet"
)

// Options holds run-mode flags that live outside the environment.
type Options struct {
	// DryRun suppresses the execution engine even when signing
	// credentials are present. Discovery, scanning, and the dashboard
	// still run; task creation is rejected by the API.
	DryRun bool
}

// App is the assembled trading system.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	health *healthprobe.HealthChecker
	http   *httpserver.Server

	maker  *predict.Client
	hedge  *polymarket.Client
	signer *polymarket.OrderSigner

	makerFeed *predict.BookFeed    // nil in legacy book mode
	hedgeFeed *polymarket.BookFeed // nil with rest hedge source
	userFeed  *predict.UserFeed    // nil without WS mode + credentials
	router    *predict.FillRouter  // nil without the user feed

	books     *books.Manager
	orders    *orderstatus.Cache
	matcher   *matching.Service
	discovery *discovery.Service
	scanner   *scanner.Scanner

	store    *tasks.Store
	journal  *journal.Writer
	sink     *eventSink
	storage  storage.Storage
	engine   *executor.Engine    // nil in dry-run or without credentials
	fills    *chainfill.Watcher  // nil without BSC_WS_URL
	exposure *exposure.Monitor
	guard    *circuitbreaker.Breaker // nil without a funded owner address
	tracker  *wallet.Tracker         // nil without balance entries

	hub    *dashboard.Hub
	bridge *dashboard.Bridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}
