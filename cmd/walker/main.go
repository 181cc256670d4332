// walker 是无界面的机器人客户端：连上服务器后在网格上随机走动，用于压测和联调
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tilesync/client"
	"tilesync/config"
	"tilesync/logging"
)

const tileSize = 16

// boundedGrid 没有障碍物的矩形地图
type boundedGrid struct{ width, height int }

func (g boundedGrid) CanOccupy(tileX, tileY int) bool {
	return tileX >= 0 && tileY >= 0 && tileX < g.width && tileY < g.height
}

type walker struct {
	log    *zap.SugaredLogger
	sync   *client.Client
	grid   client.Grid
	rng    *rand.Rand
	tx, ty int
}

// step 随机选一个方向走一格，目标格子不可占用时原地不动
func (w *walker) step() {
	dirs := [][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}
	d := dirs[w.rng.Intn(len(dirs))]
	nx, ny := w.tx+d[0], w.ty+d[1]
	if !w.grid.CanOccupy(nx, ny) {
		w.log.Debugw("blocked", "tileX", nx, "tileY", ny)
		return
	}
	w.tx, w.ty = nx, ny
	w.sync.SetLocalPosition(float64(w.tx*tileSize+tileSize/2), float64(w.ty*tileSize+tileSize/2))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	var (
		url       = flag.String("url", fmt.Sprintf("ws://%s:%d/ws", host, cfg.Port), "websocket endpoint")
		character = flag.Int("character", rand.Intn(8), "character index")
		stepEvery = flag.Duration("step", 250*time.Millisecond, "time between tile moves")
		sendRate  = flag.Int("send-rate", 30, "position updates per second")
		legacy    = flag.Bool("legacy", false, "report positions through the JSON tick message")
		gridW     = flag.Int("grid-width", 40, "map width in tiles")
		gridH     = flag.Int("grid-height", 30, "map height in tiles")
	)
	flag.Parse()

	log, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer logging.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log.Named("walker"), *url, *character, *stepEvery, *sendRate, *legacy, boundedGrid{*gridW, *gridH}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("walker stopped", "err", err)
	}
}

func run(ctx context.Context, log *zap.SugaredLogger, url string, character int, stepEvery time.Duration, sendRate int, legacy bool, grid boundedGrid) error {
	if sendRate <= 0 {
		return fmt.Errorf("walker: -send-rate must be positive, got %d", sendRate)
	}
	if stepEvery <= 0 {
		return fmt.Errorf("walker: -step must be positive, got %v", stepEvery)
	}
	if !grid.CanOccupy(grid.width/2, grid.height/2) {
		return fmt.Errorf("walker: grid %dx%d is empty", grid.width, grid.height)
	}
	conn, err := client.Dial(ctx, url, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	sync := client.New(log, conn, character, nil)
	w := &walker{
		log:  log,
		sync: sync,
		grid: grid,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		tx:   grid.width / 2,
		ty:   grid.height / 2,
	}
	w.step()

	errc := make(chan error, 1)
	go func() { errc <- conn.Serve(ctx, sync) }()

	stepT := time.NewTicker(stepEvery)
	defer stepT.Stop()
	sendT := time.NewTicker(time.Second / time.Duration(sendRate))
	defer sendT.Stop()
	frameT := time.NewTicker(time.Second / 60)
	defer frameT.Stop()
	reportT := time.NewTicker(5 * time.Second)
	defer reportT.Stop()

	for {
		select {
		case err := <-errc:
			return err
		case <-stepT.C:
			w.step()
		case <-sendT.C:
			if legacy {
				err = sync.SendLegacyTick()
			} else {
				_, err = sync.SendPlayerUpdate()
			}
			if err != nil {
				return err
			}
		case <-frameT.C:
			sync.Interpolate()
		case <-reportT.C:
			gen, _ := sync.Generation()
			x, y := sync.LocalPosition()
			log.Infow("status", "generation", gen, "character", sync.CharacterIndex(), "x", x, "y", y, "others", len(sync.Others()))
		}
	}
}
