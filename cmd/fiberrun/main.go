// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command fiberrun drives demo workloads on the fiber runtime and exposes
// their lifecycle as logs and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"code.hybscloud.com/fiber"
	fiberprom "code.hybscloud.com/fiber/observability/prometheus"
	"code.hybscloud.com/kont"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reusee/dscope"
	"github.com/urfave/cli/v2"
)

// stepDelay is the pause each demo fiber takes between steps.
type stepDelay time.Duration

func main() {
	app := &cli.App{
		Name:  "fiberrun",
		Usage: "run demo workloads on the fiber runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, e.g. :9090",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			syncCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "fork fibers that sleep and compute, then wait for them",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "fibers",
				Aliases: []string{"n"},
				Value:   8,
				Usage:   "number of fibers to fork",
			},
			&cli.IntFlag{
				Name:  "steps",
				Value: 5,
				Usage: "sleep and compute steps per fiber",
			},
			&cli.DurationFlag{
				Name:  "delay",
				Value: 10 * time.Millisecond,
				Usage: "pause between steps",
			},
			&cli.DurationFlag{
				Name:  "interrupt-after",
				Usage: "interrupt every fiber after this long; zero disables",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	n := c.Int("fibers")
	if n <= 0 {
		return cli.Exit("fibers must be positive", 1)
	}
	rt, err := newRuntime(c, dscope.Provide(stepDelay(c.Duration("delay"))))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	promises := make([]*fiber.Promise[fiber.Exit[int]], n)
	for i := range promises {
		promises[i] = fiber.RunPromiseExit(rt, worker(i, c.Int("steps")))
	}
	if d := c.Duration("interrupt-after"); d > 0 {
		time.AfterFunc(d, func() { rt.InterruptAllAs(fiber.None) })
	}

	var interrupted, failed int
	for i, p := range promises {
		exit, err := p.Wait(c.Context)
		switch {
		case err != nil && fiber.IsFiberFailure(err):
			interrupted++
		case err != nil:
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		case exit.IsFailure():
			failed++
			fmt.Printf("fiber %d: %s\n", i, fiber.Pretty(exit.Cause()))
		default:
			v, _ := exit.Value()
			fmt.Printf("fiber %d: %d\n", i, v)
		}
	}
	fmt.Printf("done: %d ok, %d failed, %d interrupted\n", n-failed-interrupted, failed, interrupted)
	return nil
}

// worker sleeps for the environment's step delay and accumulates a sum.
func worker(id, steps int) kont.Expr[int] {
	return kont.ExprBind(fiber.Service[stepDelay](), func(d stepDelay) kont.Expr[int] {
		var step func(i, acc int) kont.Expr[int]
		step = func(i, acc int) kont.Expr[int] {
			if i == steps {
				return kont.ExprThen(fiber.Log(slog.LevelDebug, "worker done", "worker", id, "sum", acc), fiber.Succeed(acc))
			}
			return kont.ExprThen(fiber.Sleep(time.Duration(d)), fiber.Suspend(func() kont.Expr[int] {
				return step(i+1, acc+id*i)
			}))
		}
		return step(0, 0)
	})
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "compute a Fibonacci number synchronously on the calling goroutine",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "n",
				Value: 20,
				Usage: "index of the Fibonacci number",
			},
		},
		Action: syncAction,
	}
}

func syncAction(c *cli.Context) error {
	n := c.Int("n")
	if n < 0 {
		return cli.Exit("n must not be negative", 1)
	}
	rt, err := newRuntime(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	v, err := fiber.RunSync(rt, fib(n))
	var async *fiber.AsyncFiberError
	switch {
	case errors.As(err, &async):
		return cli.Exit(fmt.Sprintf("Failed: fiber %s suspended", async.FiberID()), 1)
	case err != nil:
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Printf("fib(%d) = %d\n", n, v)
	return nil
}

// fib forks one branch into a child fiber at every level above the cutoff.
func fib(n int) kont.Expr[int] {
	if n < 2 {
		return fiber.Succeed(n)
	}
	if n < 12 {
		return fiber.Suspend(func() kont.Expr[int] {
			a, b := 0, 1
			for range n {
				a, b = b, a+b
			}
			return fiber.Succeed(a)
		})
	}
	return kont.ExprBind(fiber.Fork(fib(n-1)), func(left *fiber.Fiber[int]) kont.Expr[int] {
		return kont.ExprBind(fib(n-2), func(right int) kont.Expr[int] {
			return kont.ExprMap(fiber.Join(left), func(l int) int { return l + right })
		})
	})
}

// newRuntime builds the runtime shared by the commands: a logger at the
// requested level, lifecycle logging, and metrics served over HTTP when
// an address is given.
func newRuntime(c *cli.Context, defs ...any) (*fiber.Runtime, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return nil, err
	}
	logger := fiber.NewLogger(os.Stderr, level)

	sups := []fiber.Supervisor{fiber.NewLogSupervisor(logger)}
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prom.NewRegistry()
		metrics, err := fiberprom.NewMetricsSupervisor("fiber", reg, fiberprom.SupervisorOptions{})
		if err != nil {
			return nil, err
		}
		sups = append(sups, metrics)
		serveMetrics(c.Context, addr, reg, logger)
	}

	return fiber.New(
		fiber.WithEnvironment(dscope.New(defs...)),
		fiber.WithLogger(logger),
		fiber.WithSupervisor(fiber.Fanout(sups...)),
	), nil
}

func serveMetrics(ctx context.Context, addr string, reg *prom.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
