package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	ntf "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agenclip/agenclip/app/content"
	"github.com/agenclip/agenclip/app/engine"
	"github.com/agenclip/agenclip/app/notify"
	"github.com/agenclip/agenclip/app/web"
)

var opts struct {
	Listen  string `short:"l" long:"listen" env:"AGENCLIP_LISTEN" default:":8080" description:"web server listen address"`
	Content string `short:"c" long:"content" env:"AGENCLIP_CONTENT" description:"landing content yaml, embedded default if empty"`
	HashPin string `long:"hash-pin" description:"print bcrypt hash of the given PIN and exit"`
	Dbg     bool   `long:"dbg" env:"AGENCLIP_DEBUG" description:"debug mode"`

	Engine struct {
		URL          string        `long:"url" env:"URL" description:"default engine url for sessions without their own"`
		PollInterval time.Duration `long:"poll" env:"POLL" default:"3s" description:"job status poll interval"`
		MaxWait      time.Duration `long:"max-wait" env:"MAX_WAIT" default:"0s" description:"fail jobs not finished in this time, 0 waits forever"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"engine request timeout, uploads excluded"`
		Attempts     int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"attempts for status and library requests"`
		Duration     time.Duration `long:"duration" env:"DURATION" default:"500ms" description:"initial retry delay"`
		Factor       float64       `long:"factor" env:"FACTOR" default:"2" description:"retry backoff factor"`
		ResumeConcur int           `long:"resume-concur" env:"RESUME_CONCUR" default:"4" description:"concurrent status checks on startup"`
	} `group:"engine" namespace:"engine" env-namespace:"AGENCLIP_ENGINE"`

	Admin struct {
		PinHash    string        `long:"pin-hash" env:"PIN_HASH" description:"bcrypt hash of the dashboard PIN"`
		LoginTTL   time.Duration `long:"login-ttl" env:"LOGIN_TTL" default:"24h" description:"dashboard unlock lifetime"`
		UnlockRate float64       `long:"unlock-rate" env:"UNLOCK_RATE" default:"0.2" description:"PIN attempts per second per ip"`
	} `group:"admin" namespace:"admin" env-namespace:"AGENCLIP_ADMIN"`

	Web struct {
		MaxUpload     int64         `long:"max-upload" env:"MAX_UPLOAD" default:"2147483648" description:"max upload size in bytes"`
		UploadTimeout time.Duration `long:"upload-timeout" env:"UPLOAD_TIMEOUT" default:"30m" description:"max time for a single upload"`
		HistoryLimit  int           `long:"history" env:"HISTORY" default:"20" description:"runs shown in history"`
	} `group:"web" namespace:"web" env-namespace:"AGENCLIP_WEB"`

	Store struct {
		DBPath    string        `long:"db" env:"DB" default:"agenclip.db" description:"sqlite database path"`
		Cleanup   string        `long:"cleanup" env:"CLEANUP" default:"@daily" description:"housekeeping cron schedule, empty disables it"`
		Retention time.Duration `long:"retention" env:"RETENTION" default:"720h" description:"drop sessions idle for longer than this"`
	} `group:"store" namespace:"store" env-namespace:"AGENCLIP_STORE"`

	Notify struct {
		Destinations      []string      `long:"dest" env:"DEST" env-delim:"," description:"webhook or mailto: destinations"`
		EnabledError      bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"notify on failed runs"`
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"notify on completed runs"`
		Timeout           time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"delivery timeout"`
		SMTPHost          string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort          int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername      string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword      string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS           bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
	} `group:"notify" namespace:"notify" env-namespace:"AGENCLIP_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"agenclip.log" description:"file name to log to"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep old log files"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"AGENCLIP_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("agenclip %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	if opts.HashPin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.HashPin), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "can't hash pin: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	setupLog(opts.Dbg, setupLogs())

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel) // handle SIGQUIT, SIGTERM and SIGINT

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] agenclip stopped")
}

func run(ctx context.Context) error {
	landing, err := content.Load(opts.Content)
	if err != nil {
		return fmt.Errorf("can't load content: %w", err)
	}
	if opts.Admin.PinHash == "" {
		log.Printf("[WARN] admin pin hash is not set, dashboard stays locked")
	}

	cfg := web.Config{
		DBPath:           opts.Store.DBPath,
		Version:          revision,
		Engine:           makeEngineClient(),
		DefaultEngineURL: opts.Engine.URL,
		PollInterval:     opts.Engine.PollInterval,
		MaxWait:          opts.Engine.MaxWait,
		PinHash:          opts.Admin.PinHash,
		LoginTTL:         opts.Admin.LoginTTL,
		UnlockRate:       opts.Admin.UnlockRate,
		MaxUpload:        opts.Web.MaxUpload,
		UploadTimeout:    opts.Web.UploadTimeout,
		HistoryLimit:     opts.Web.HistoryLimit,
		Content:          landing,
		CleanupSchedule:  opts.Store.Cleanup,
		Retention:        opts.Store.Retention,
		ResumeConcur:     opts.Engine.ResumeConcur,
	}
	if n := makeNotifier(); n != nil {
		cfg.Notifier = n
	}

	srv, err := web.New(cfg)
	if err != nil {
		return fmt.Errorf("can't make web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

func makeEngineClient() *engine.Client {
	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Engine.Attempts, Duration: opts.Engine.Duration,
		Factor: opts.Engine.Factor, Jitter: true})
	return engine.NewClient(engine.ClientParams{
		Repeater:       rptr,
		RequestTimeout: opts.Engine.Timeout,
		Version:        revision,
	})
}

func makeNotifier() *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}
	return notify.NewService(notify.Params{
		Destinations: opts.Notify.Destinations,
		SMTP: ntf.SMTPParams{
			Host:     opts.Notify.SMTPHost,
			Port:     opts.Notify.SMTPPort,
			TLS:      opts.Notify.SMTPTLS,
			Username: opts.Notify.SMTPUsername,
			Password: opts.Notify.SMTPPassword,
		},
		Timeout:      opts.Notify.Timeout,
		OnCompletion: opts.Notify.EnabledCompletion,
		OnError:      opts.Notify.EnabledError,
	})
}

// setupLogs returns the log destination, rotated file if enabled
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLog(dbg bool, out io.Writer) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.LevelBraces, log.CallerFile, log.CallerFunc, log.Out(out), log.Err(out))
		return
	}
	log.Setup(log.Msec, log.LevelBraces, log.Out(out), log.Err(out))
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
