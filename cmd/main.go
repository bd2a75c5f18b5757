package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/eihwaz/behavior"
	"github.com/aukilabs/eihwaz/command"
	"github.com/aukilabs/eihwaz/featureflag"
	eihwazhttp "github.com/aukilabs/eihwaz/http"
	"github.com/aukilabs/eihwaz/inspector"
	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/modules"
	"github.com/aukilabs/eihwaz/modules/kenaz"
	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/eihwaz/stress"
	hwebsocket "github.com/aukilabs/eihwaz/websocket"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Eihwaz version number. Set at build.
	version = "v0.3.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "eihwaz_info",
		Help:        "Eihwaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string          `cli:""        env:"EIHWAZ_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string          `cli:""        env:"EIHWAZ_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string          `cli:""        env:"EIHWAZ_PUBLIC_ENDPOINT"      help:"The public endpoint where this Eihwaz server is reachable."`
	LogLevel           string          `cli:""        env:"EIHWAZ_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool            `cli:""        env:"EIHWAZ_LOG_INDENT"           help:"Indent logs."`
	FrameDuration      time.Duration   `cli:",hidden" env:"EIHWAZ_FRAME_DURATION"       help:"The duration of a simulation frame."`
	FrameStatsInterval time.Duration   `cli:",hidden" env:"EIHWAZ_FRAME_STATS_INTERVAL" help:"The duration between frame statistics pushes to debug clients."`
	ClientIdleTimeout  time.Duration   `cli:",hidden" env:"EIHWAZ_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	LogSummaryInterval time.Duration   `cli:",hidden" env:"EIHWAZ_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	StatsHistory       int             `cli:",hidden" env:"EIHWAZ_STATS_HISTORY"        help:"The number of frame statistics entries kept for inspection."`
	World              worldConfig     `cli:",hidden" env:"-"                           help:"World bounds configuration."`
	Queue              queueConfig     `cli:",hidden" env:"-"                           help:"Command queue configuration."`
	Detection          detectionConfig `cli:",hidden" env:"-"                           help:"Creature detection configuration."`
	Events             eventsConfig    `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string        `cli:",hidden" env:"EIHWAZ_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool            `cli:""        env:"-"                           help:"Show version."`
	Help               bool            `cli:""        env:"-"                           help:"Show help."`
}

type worldConfig struct {
	Name         string  `cli:",hidden" env:"EIHWAZ_WORLD_NAME"          help:"World name."`
	MinX         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MIN_X"         help:"World lower bound on the x axis."`
	MinY         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MIN_Y"         help:"World lower bound on the y axis."`
	MinZ         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MIN_Z"         help:"World lower bound on the z axis."`
	MaxX         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MAX_X"         help:"World upper bound on the x axis."`
	MaxY         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MAX_Y"         help:"World upper bound on the y axis."`
	MaxZ         float64 `cli:",hidden" env:"EIHWAZ_WORLD_MAX_Z"         help:"World upper bound on the z axis."`
	MaxDepth     int     `cli:",hidden" env:"EIHWAZ_WORLD_MAX_DEPTH"     help:"Maximum octree subdivision depth."`
	NodeCapacity int     `cli:",hidden" env:"EIHWAZ_WORLD_NODE_CAPACITY" help:"Entities per octree node before subdivision."`
}

type queueConfig struct {
	Size             int           `cli:",hidden" env:"EIHWAZ_QUEUE_SIZE"              help:"Command queue capacity."`
	MutationInterval time.Duration `cli:",hidden" env:"EIHWAZ_QUEUE_MUTATION_INTERVAL" help:"The minimum delay between debug mutations."`
}

type detectionConfig struct {
	Creatures     int           `cli:",hidden" env:"EIHWAZ_DETECTION_CREATURES"      help:"The number of creatures seeded at startup."`
	CheckInterval time.Duration `cli:",hidden" env:"EIHWAZ_DETECTION_CHECK_INTERVAL" help:"The interval between proximity checks per creature."`
	AlertDuration time.Duration `cli:",hidden" env:"EIHWAZ_DETECTION_ALERT_DURATION" help:"The time an alerted creature stays alert."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"EIHWAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"EIHWAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"EIHWAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"EIHWAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		FrameDuration:      models.DefaultFrameDuration,
		FrameStatsInterval: time.Second,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		StatsHistory:       inspector.DefaultRingCapacity,
		World: worldConfig{
			Name:         "default",
			MinX:         -100,
			MinY:         -10,
			MinZ:         -100,
			MaxX:         100,
			MaxY:         50,
			MaxZ:         100,
			MaxDepth:     spatial.DefaultMaxDepth,
			NodeCapacity: spatial.DefaultNodeCapacity,
		},
		Queue: queueConfig{
			Size:             command.DefaultCapacity,
			MutationInterval: command.DefaultMutationInterval,
		},
		Detection: detectionConfig{
			Creatures:     12,
			CheckInterval: behavior.DefaultCheckInterval,
			AlertDuration: behavior.DefaultAlertDuration,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts an Eihwaz inspection server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "eihwaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	flags := featureflag.New(conf.FeatureFlags)

	sceneOpts := models.SceneOptions{
		FrameDuration:    conf.FrameDuration,
		World:            toWorld(conf.World),
		CommandQueueSize: conf.Queue.Size,
		MutationInterval: conf.Queue.MutationInterval,
	}
	flags.IfSet(featureflag.FlagStrictInvariants, func() {
		sceneOpts.StrictInvariants = true
	})
	flags.IfSet(featureflag.FlagDisableQueryCache, func() {
		sceneOpts.DisableCache = true
	})

	scene, err := models.NewScene(1, sceneOpts)
	if err != nil {
		logs.Fatal(errors.New("creating scene failed").Wrap(err))
	}

	ring := inspector.NewRing(conf.StatsHistory)
	ringCancel := ring.Observe(scene)
	defer ringCancel()

	detectionCancel := func() {}
	flags.IfNotSet(featureflag.FlagDisableDetection, func() {
		detectionCancel = seedDetection(scene, conf.Detection)
	})
	defer detectionCancel()

	go scene.StartDispatchFrames()
	defer scene.Close()

	readinessCheck := func() bool {
		return scene.StatsSnapshot().Frame > 0
	}

	insp := &inspector.Inspector{
		Scene:   scene,
		Ring:    ring,
		Version: version,
	}

	var service http.ServeMux

	service.Handle("/health", eihwazhttp.HandleWithCORS(http.HandlerFunc(eihwazhttp.HandleHealthCheck)))
	service.Handle("/ready", eihwazhttp.HandleWithCORS(http.HandlerFunc(eihwazhttp.HandleReadyCheck(readinessCheck))))
	service.Handle("/version", eihwazhttp.HandleWithCORS(http.HandlerFunc(eihwazhttp.HandleVersion(version))))
	service.Handle("/api/", insp.Handler())

	service.Handle("/ws", eihwazhttp.HandleWithCORS(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var dh hwebsocket.Handler = &hwebsocket.DebugHandler{
				FrameStatsPushInterval: conf.FrameStatsInterval,
				ClientIdleTimeout:      conf.ClientIdleTimeout,
				Scene:                  scene,
				Modules: []modules.Module{
					&kenaz.Module{},
				},
				FeatureFlags: flags,
			}
			h := hwebsocket.HandlerWithLogs(dh, conf.LogSummaryInterval)
			h = hwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			hwebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", eihwazhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", eihwazhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	admin.HandleFunc("/stress-test", stress.HandleStressTest(ctx, stress.Options{
		Endpoint: conf.PublicEndpoint,
		SendResult: func(_ context.Context, res stress.Results) error {
			logs.WithTag("status", res.Status).
				WithTag("entity_count", res.EntityCount).
				WithTag("query_count", res.QueryCount).
				WithTag("hit_total", res.HitTotal).
				WithTag("queries_per_sec", res.QueriesPerSec).
				Info("stress test finished")
			return nil
		},
	}))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("world", conf.World.Name).
		WithTag("frame_duration", conf.FrameDuration).
		Info("starting eihwaz server")

	eihwazhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			eihwazhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

// seedDetection populates the world with creatures and hooks the detection
// system into the frame loop. Runs before frame dispatching starts.
func seedDetection(scene *models.Scene, conf detectionConfig) (cancel func()) {
	system := &behavior.System{
		Querier:       scene.Querier(),
		Resolve:       scene.ResolvePosition,
		CheckInterval: conf.CheckInterval,
		AlertDuration: conf.AlertDuration,
	}

	bounds := scene.World.Bounds()
	temperaments := []behavior.Temperament{
		behavior.TemperamentPeaceful,
		behavior.TemperamentNeutral,
		behavior.TemperamentAggressive,
	}

	for i := 0; i < conf.Creatures; i++ {
		entity := scene.SpawnEntity(models.SpawnOptions{
			Position: randomPoint(bounds),
			Behavior: spatial.BehaviorDynamic,
			Layer:    spatial.LayerCreatures,
			Persist:  true,
		})
		system.Add(entity.ID, temperaments[i%len(temperaments)])
	}

	logs.WithTag("creatures", conf.Creatures).
		Info("detection system enabled")

	return scene.HandleFrame(system.Step)
}

func randomPoint(bounds spatial.Box) spatial.Vector3f {
	return spatial.Vector3f{
		X: bounds.Min.X + rand.Float32()*(bounds.Max.X-bounds.Min.X),
		Y: bounds.Min.Y + rand.Float32()*(bounds.Max.Y-bounds.Min.Y),
		Z: bounds.Min.Z + rand.Float32()*(bounds.Max.Z-bounds.Min.Z),
	}
}

func toWorld(conf worldConfig) spatial.WorldConfig {
	return spatial.WorldConfig{
		Name: conf.Name,
		MinBounds: spatial.Vector3f{
			X: float32(conf.MinX),
			Y: float32(conf.MinY),
			Z: float32(conf.MinZ),
		},
		MaxBounds: spatial.Vector3f{
			X: float32(conf.MaxX),
			Y: float32(conf.MaxY),
			Z: float32(conf.MaxZ),
		},
		MaxDepth:     conf.MaxDepth,
		NodeCapacity: conf.NodeCapacity,
		MinNodeSize:  spatial.DefaultMinNodeSize,
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.StatsHistory < 0 {
		return errors.New("stats history size is negative")
	}

	return nil
}
