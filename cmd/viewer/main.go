// Command viewer serves stored self-play games and traced debug games. Live
// games are only available from the executor's embedded viewer.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/logging"
	"github.com/brensch/gomokuzero/viewer"
	"github.com/rs/zerolog/log"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "HTTP listen address")
	dataDirs := flag.String("data-dirs", filepath.Join("data", "generated"), "Comma-separated directories containing training parquet shards")
	debugDir := flag.String("debug-dir", "debug_games", "Directory containing debug game parquet files")
	staticDir := flag.String("static-dir", "", "Optional directory to serve as SPA static (e.g. viewer/web/dist)")
	modelPath := flag.String("model-path", "", "ONNX model for /api/analyze (empty uses random rollouts)")
	boardSize := flag.Int("board-size", 15, "Board size the model was trained for")
	disableCUDA := flag.Bool("disable-cuda", false, "Disable CUDA execution provider")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if _, err := logging.Setup(*logLevel, "console"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	roots := parseDataRoots(*dataDirs)
	log.Info().Strs("roots", roots).Msg("viewer data roots")

	srv := viewer.NewServer(roots, *debugDir)
	if *modelPath != "" {
		client, err := inference.NewOnnxClientWithConfig(*modelPath, inference.OnnxClientConfig{
			BoardSize:   *boardSize,
			DisableCUDA: *disableCUDA,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load model")
		}
		defer client.Close()
		srv.Predictor = client
	} else {
		srv.Predictor = inference.NewRollout(inference.DefaultPlayouts, 0)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	if *staticDir != "" {
		mux.Handle("/", spaHandler{staticPath: *staticDir, indexPath: filepath.Join(*staticDir, "index.html")})
		log.Info().Str("dir", *staticDir).Msg("serving SPA")
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", *listen).Msg("viewer API listening")
	if err := httpSrv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("viewer stopped")
	}
}

func parseDataRoots(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

// ServeHTTP serves an existing static file, or index.html for client-side
// routes.
func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Clean(r.URL.Path)
	if path == "/" {
		http.ServeFile(w, r, h.indexPath)
		return
	}
	candidate := filepath.Join(h.staticPath, strings.TrimPrefix(path, "/"))
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, h.indexPath)
}
