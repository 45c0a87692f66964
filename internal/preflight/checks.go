package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"clipforge/internal/config"
	"clipforge/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace compares free bytes on the filesystem holding path against
// minimum. A zero minimum only reports the free amount.
func CheckFreeSpace(name, path string, minimum datasize.ByteSize) Result {
	usage, err := disk.Usage(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	free := datasize.ByteSize(usage.Free)
	if minimum > 0 && free < minimum {
		return Result{Name: name, Detail: fmt.Sprintf("%s free, below minimum %s", free.HR(), minimum.HR())}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s free", free.HR())}
}

// CheckRedis pings the GPU lock's Redis server. It uses a 5-second timeout
// and a single attempt.
func CheckRedis(ctx context.Context, gpu config.GPU) Result {
	const name = "GPU lock Redis"

	addr := strings.TrimSpace(gpu.RedisAddr)
	if addr == "" {
		return Result{Name: name, Detail: "missing redis_addr"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		DB:         gpu.RedisDB,
		Password:   gpu.RedisPassword,
		MaxRetries: -1,
	})
	defer client.Close()

	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: addr + " reachable"}
}

// CheckSystemDeps evaluates the external tools for the given config. Both the
// daemon and the CLI use it so the requirements list lives in one place.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.Requirements(cfg))
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (server unreachable)"
	}
	return err.Error()
}
