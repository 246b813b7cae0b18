// Package servecmd runs the CID lookup API.
package servecmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"

	"github.com/b-open-io/token-index/cidcache"
	"github.com/b-open-io/token-index/routes"
)

var (
	cacheURL  string
	port      int
	poolSize  int
	cacheSize int
)

var Command = &cobra.Command{
	Use:   "serve",
	Short: "Serve CID lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := cidcache.NewPool(cacheURL, poolSize)
		if err != nil {
			return err
		}
		defer pool.Close()

		app := fiber.New()
		app.Use(requestid.New())
		app.Use(logger.New())

		if err := routes.Register(app, &routes.Config{
			Pool:      pool,
			CacheSize: cacheSize,
		}); err != nil {
			return err
		}
		routes.RegisterDocs(app)

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-signalChan
			log.Println("Received shutdown signal, cleaning up...")
			app.Shutdown()
		}()

		log.Printf("Serving CID lookups on :%d (store %s, %d connections, cache %d)",
			port, cacheURL, poolSize, cacheSize)
		return app.Listen(fmt.Sprintf(":%d", port))
	},
}

func init() {
	defaultURL := os.Getenv("CID_CACHE_URL")
	if defaultURL == "" {
		defaultURL = "cid_tokens.db"
	}
	defaultPort, _ := strconv.Atoi(os.Getenv("PORT"))
	if defaultPort == 0 {
		defaultPort = 5000
	}
	defaultCache, _ := strconv.Atoi(os.Getenv("CACHE_SIZE"))
	if defaultCache == 0 {
		defaultCache = routes.DefaultCacheSize
	}
	Command.Flags().StringVar(&cacheURL, "cache", defaultURL, "cache location: sqlite path or redis:// URL")
	Command.Flags().IntVar(&port, "port", defaultPort, "port to listen on")
	Command.Flags().IntVar(&poolSize, "pool", runtime.NumCPU(), "store connections in the checkout pool")
	Command.Flags().IntVar(&cacheSize, "cache-size", defaultCache, "hot-entry cache capacity")
}
