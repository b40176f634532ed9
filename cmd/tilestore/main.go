// Command tilestore exercises tiled pixel storage: it loads an image (or
// generates a test pattern of any size), rescales it through the tile
// cache and writes the result, or one of its preview levels, as PNG.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/tilestore"
	"github.com/gogpu/tilestore/config"
)

func main() {
	var (
		cfgPath = flag.String("config", "tilestore.toml", "configuration file")
		input   = flag.String("input", "", "input image (default: generated pattern)")
		width   = flag.Int("width", 4096, "pattern width")
		height  = flag.Int("height", 4096, "pattern height")
		scale   = flag.Float64("scale", 0.5, "output scale factor")
		level   = flag.Int("level", 0, "write this preview level instead of the full result")
		cache   = flag.String("cache", "", "cache size override, e.g. 64MiB")
		output  = flag.String("output", "out.png", "output file")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *cache)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lvl, _ := cfg.Level()
	tilestore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	st, err := tilestore.Open(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("close storage: %v", err)
		}
	}()

	if err := run(st, *input, *width, *height, *scale, *level, *output); err != nil {
		log.Printf("tilestore: %v", err)
		return
	}
	printStats(st.Stats())
}

func loadConfig(path, cache string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if cache != "" {
		size, err := config.ParseByteSize(cache)
		if err != nil {
			return cfg, err
		}
		cfg.CacheSize = size
	}
	return cfg, cfg.Validate()
}

func run(st *tilestore.Storage, input string, w, h int, scale float64, level int, output string) error {
	src, err := loadSource(st, input, w, h)
	if err != nil {
		return err
	}
	defer src.Destroy()

	dw := max(1, int(math.Round(float64(src.Width())*scale)))
	dh := max(1, int(math.Round(float64(src.Height())*scale)))
	dst, err := st.NewManager(dw, dh, 4)
	if err != nil {
		return err
	}
	defer dst.Destroy()

	from, err := tilestore.NewRegion(src, 0, 0, src.Width(), src.Height(), false)
	if err != nil {
		return err
	}
	to, err := tilestore.NewRegion(dst, 0, 0, dw, dh, true)
	if err != nil {
		return err
	}
	if err := tilestore.Copy(to, from); err != nil {
		return fmt.Errorf("scale: %w", err)
	}

	l, err := dst.Level(level)
	if err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	img, err := l.ReadImage(l.Bounds())
	if err != nil {
		return err
	}

	f, err := os.Create(output) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	log.Printf("wrote %s (%dx%d, level %d of %d)", output, l.Width(), l.Height(), level, dst.NumLevels())
	return f.Close()
}

// loadSource decodes input into a new RGBA buffer, or fills a w x h buffer
// with a test pattern when input is empty. The pattern is generated tile
// by tile and never held in memory as a whole.
func loadSource(st *tilestore.Storage, input string, w, h int) (*tilestore.Manager, error) {
	if input != "" {
		f, err := os.Open(input) //nolint:gosec // path is user-provided intentionally
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, format, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", input, err)
		}
		b := img.Bounds()
		m, err := st.NewManager(b.Dx(), b.Dy(), 4)
		if err != nil {
			return nil, err
		}
		log.Printf("loaded %s (%s, %dx%d)", input, format, b.Dx(), b.Dy())
		return m, m.WriteImage(img, image.Point{})
	}

	m, err := st.NewManager(w, h, 4)
	if err != nil {
		return nil, err
	}
	r, err := tilestore.NewRegion(m, 0, 0, w, h, true)
	if err != nil {
		return nil, err
	}
	return m, tilestore.Process(func(c *tilestore.Chunk) error {
		v := c.View(0)
		for y := range v.Height() {
			py := v.Rect().Min.Y + y
			for x := range v.Width() {
				px := v.Rect().Min.X + x
				hue := 360 * float64(px) / float64(w)
				lum := 0.3 + 0.5*float64(py)/float64(h)
				cr, cg, cb := colorful.Hcl(hue, 0.4, lum).Clamped().RGB255()
				p := v.Pixel(x, y)
				p[0], p[1], p[2], p[3] = cr, cg, cb, 0xff
			}
		}
		return nil
	}, r)
}

func printStats(s tilestore.Stats) {
	p := message.NewPrinter(language.English)
	c, sw := s.Cache, s.Swap
	p.Printf("cache:  budget %d B, peak %d B in %d tiles, hit rate %.1f%%\n",
		c.Budget, c.PeakResident, c.PeakResidentTiles, 100*c.HitRate)
	p.Printf("        %d hits, %d misses, %d evictions, %d swap-outs, %d swap-ins\n",
		c.Hits, c.Misses, c.Evictions, c.SwapOuts, c.SwapIns)
	p.Printf("swap:   %d B file, %d B used in %d records, %d gaps\n",
		sw.Size, sw.Used, sw.Records, sw.Gaps)
}
