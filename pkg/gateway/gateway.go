// Package gateway provides the public API for embedding the contact gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/contact-gateway/internal/config"
	"github.com/tjfontaine/contact-gateway/internal/runtime"
)

// Gateway binds configuration, the store connection and the request
// pipeline. See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// Config is the gateway configuration.
type Config = config.Config

// New creates a Gateway from cfg.
// Example:
//
//	cfg, _ := gateway.LoadConfig()
//	gw, err := gateway.New(cfg, gateway.WithSQLite("./data/contacts.db"))
var New = runtime.New

// Configuration
var (
	LoadConfig     = config.Load
	LoadConfigFile = config.LoadFile
	DefaultConfig  = config.Default
)

// Options
var (
	// Storage
	WithMongo  = runtime.WithMongo
	WithSQLite = runtime.WithSQLite
	WithMemory = runtime.WithMemory
	WithDialer = runtime.WithDialer

	// Advanced options
	WithLogger   = runtime.WithLogger
	WithClock    = runtime.WithClock
	WithObserver = runtime.WithObserver
)

// Serve handles one serverless invocation with the process-wide Gateway
// built from the environment.
var Serve = runtime.Serve

// Default returns the process-wide Gateway.
var Default = runtime.Default

// NewLogger returns the JSON logger the gateway uses.
var NewLogger = runtime.NewLogger
