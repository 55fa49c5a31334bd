// unctool inspects and converts uncompressed-image containers.
//
// gen synthesizes a filter-array test container from a built-in
// gradient scene, encode and decode convert between PNG and the
// container format, dump prints the box tree, hash prints BLAKE3
// digests of the decoded planes for golden-file comparisons, and
// preview writes a downscaled PNG.
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/jdeng/gounci"
	"github.com/jdeng/gounci/unci"
	"github.com/jdeng/gounci/unci/bmff"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("UNCTOOL_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "gen":
		err = runGen(os.Args[2:], logger)
	case "encode":
		err = runEncode(os.Args[2:], logger)
	case "decode":
		err = runDecode(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "hash":
		err = runHash(os.Args[2:])
	case "preview":
		err = runPreview(os.Args[2:])
	case "help", "--help", "-h":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: unctool <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  gen     --out test.unci [--pattern rggb] [--width 256] [--height 256] [--depth 8] [encode flags]")
	fmt.Fprintln(os.Stderr, "  encode  --in image.png --out image.unci [--pattern rggb] [encode flags]")
	fmt.Fprintln(os.Stderr, "  decode  --in image.unci --out image.png")
	fmt.Fprintln(os.Stderr, "  dump    --in image.unci")
	fmt.Fprintln(os.Stderr, "  hash    --in image.unci")
	fmt.Fprintln(os.Stderr, "  preview --in image.unci --out thumb.png [--size 256]")
	fmt.Fprintln(os.Stderr, "Encode flags: [--tile-cols N] [--tile-rows N] [--compression off|deflate|zlib|brotli]")
	fmt.Fprintln(os.Stderr, "              [--unit image|tile] [--preset file.yaml]")
	fmt.Fprintln(os.Stderr, "Set UNCTOOL_DEBUG=1 for debug logging.")
}

// preset mirrors the encode flags, so a YAML file can carry a site's
// standing settings. Explicit flags win over preset values.
type preset struct {
	TileCols    int    `yaml:"tile_cols"`
	TileRows    int    `yaml:"tile_rows"`
	Compression string `yaml:"compression"`
	Unit        string `yaml:"unit"`
	Pattern     string `yaml:"pattern"`
	Depth       int    `yaml:"depth"`
}

func loadPreset(path string) (*preset, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var p preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse preset %s: %w", path, err)
	}
	return &p, nil
}

// encodeFlags is the flag group shared by gen and encode.
type encodeFlags struct {
	fs          *pflag.FlagSet
	tileCols    int
	tileRows    int
	compression string
	unit        string
	presetPath  string
}

func addEncodeFlags(fs *pflag.FlagSet) *encodeFlags {
	ef := &encodeFlags{fs: fs}
	fs.IntVar(&ef.tileCols, "tile-cols", 1, "tile columns")
	fs.IntVar(&ef.tileRows, "tile-rows", 1, "tile rows")
	fs.StringVar(&ef.compression, "compression", "off", "coded unit compression: off, deflate, zlib or brotli")
	fs.StringVar(&ef.unit, "unit", "image", "compression unit granularity: image or tile")
	fs.StringVar(&ef.presetPath, "preset", "", "YAML preset with encode settings")
	return ef
}

func (ef *encodeFlags) loadPreset() (*preset, error) {
	if ef.presetPath == "" {
		return nil, nil
	}
	return loadPreset(ef.presetPath)
}

// options resolves the encode settings: explicit flags first, preset
// values for everything left at its default.
func (ef *encodeFlags) options(p *preset) (*unci.Options, error) {
	if p != nil {
		if !ef.fs.Changed("tile-cols") && p.TileCols != 0 {
			ef.tileCols = p.TileCols
		}
		if !ef.fs.Changed("tile-rows") && p.TileRows != 0 {
			ef.tileRows = p.TileRows
		}
		if !ef.fs.Changed("compression") && p.Compression != "" {
			ef.compression = p.Compression
		}
		if !ef.fs.Changed("unit") && p.Unit != "" {
			ef.unit = p.Unit
		}
	}
	comp, err := unci.ParseCompression(ef.compression)
	if err != nil {
		return nil, err
	}
	opts := &unci.Options{TileCols: ef.tileCols, TileRows: ef.tileRows, Compression: comp}
	switch ef.unit {
	case "image":
		opts.UnitType = bmff.UnitImage
	case "tile":
		opts.UnitType = bmff.UnitTile
	default:
		return nil, fmt.Errorf("unknown compression unit %q (want image or tile)", ef.unit)
	}
	return opts, nil
}

func runGen(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("gen", pflag.ContinueOnError)
	out := fs.String("out", "", "output container")
	patternSpec := fs.String("pattern", "rggb", "filter pattern: rggb, rgbw, qbc or custom cells")
	width := fs.Int("width", 256, "image width")
	height := fs.Int("height", 256, "image height")
	depth := fs.Int("depth", 8, "sample bit depth")
	ef := addEncodeFlags(fs)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("missing required --out")
	}

	p, err := ef.loadPreset()
	if err != nil {
		return err
	}
	if p != nil {
		if !fs.Changed("pattern") && p.Pattern != "" {
			*patternSpec = p.Pattern
		}
		if !fs.Changed("depth") && p.Depth != 0 {
			*depth = p.Depth
		}
	}
	opts, err := ef.options(p)
	if err != nil {
		return err
	}
	if *width < 1 || *height < 1 {
		return fmt.Errorf("image size %dx%d must be positive", *width, *height)
	}
	if *depth < 1 || *depth > 16 {
		return fmt.Errorf("bit depth %d out of range (1-16)", *depth)
	}

	pat, err := unci.ParsePattern(*patternSpec)
	if err != nil {
		return err
	}
	mosaic, err := unci.Mosaic(testScene(*width, *height, *depth), pat)
	if err != nil {
		return err
	}
	enc, err := unci.EncodeFrame(mosaic, opts)
	if err != nil {
		return err
	}
	data, err := buildContainer(enc)
	if err != nil {
		return err
	}
	logger.Debug("generated test container", "pattern", *patternSpec,
		"size", fmt.Sprintf("%dx%d", *width, *height), "bytes", len(data))
	return os.WriteFile(filepath.Clean(*out), data, 0o644)
}

func runEncode(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("encode", pflag.ContinueOnError)
	in := fs.String("in", "", "input PNG")
	out := fs.String("out", "", "output container")
	patternSpec := fs.String("pattern", "", "mosaic the input through this filter pattern before encoding")
	ef := addEncodeFlags(fs)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("missing required --in or --out")
	}

	p, err := ef.loadPreset()
	if err != nil {
		return err
	}
	if p != nil && !fs.Changed("pattern") && p.Pattern != "" {
		*patternSpec = p.Pattern
	}
	opts, err := ef.options(p)
	if err != nil {
		return err
	}

	src, err := readPNG(*in)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if *patternSpec != "" {
		pat, err := unci.ParsePattern(*patternSpec)
		if err != nil {
			return err
		}
		mosaic, err := unci.Mosaic(rgbFromImage(src), pat)
		if err != nil {
			return err
		}
		enc, err := unci.EncodeFrame(mosaic, opts)
		if err != nil {
			return err
		}
		data, err := buildContainer(enc)
		if err != nil {
			return err
		}
		buf.Write(data)
	} else if err := gounci.Encode(&buf, src, opts); err != nil {
		return err
	}
	logger.Debug("encoded container", "in", *in, "bytes", buf.Len())
	return os.WriteFile(filepath.Clean(*out), buf.Bytes(), 0o644)
}

func runDecode(args []string) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	in := fs.String("in", "", "input container")
	out := fs.String("out", "", "output PNG")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("missing required --in or --out")
	}

	f, err := os.Open(filepath.Clean(*in))
	if err != nil {
		return err
	}
	defer f.Close()
	img, err := gounci.Decode(f)
	if err != nil {
		return err
	}
	return writePNG(*out, img)
}

func runDump(args []string) error {
	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	in := fs.String("in", "", "input container")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("missing required --in")
	}

	f, err := os.Open(filepath.Clean(*in))
	if err != nil {
		return err
	}
	defer f.Close()
	r := bmff.NewReaderWithLimits(f, bmff.DefaultLimits())
	for {
		box, err := r.ReadBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		parsed, err := box.Parse()
		if err != nil {
			return err
		}
		if d, ok := parsed.(bmff.Dumper); ok {
			fmt.Print(d.Dump())
		} else {
			fmt.Printf("Box: %s -----\n", parsed.Type())
		}
	}
}

func runHash(args []string) error {
	fs := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	in := fs.String("in", "", "input container")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("missing required --in")
	}

	f, err := os.Open(filepath.Clean(*in))
	if err != nil {
		return err
	}
	defer f.Close()
	images, err := unci.Open(f).Images()
	if err != nil {
		return err
	}
	for _, it := range images {
		img, err := it.Decode()
		if err != nil {
			return fmt.Errorf("decode item %d: %w", it.ID, err)
		}
		for _, c := range img.Components {
			sum := blake3.Sum256(c.Pix)
			fmt.Printf("item %d  %s  %d-bit  %dx%d  %s\n",
				it.ID, c.Type, c.BitDepth, c.Width, c.Height, hex.EncodeToString(sum[:]))
		}
	}
	return nil
}

func runPreview(args []string) error {
	fs := pflag.NewFlagSet("preview", pflag.ContinueOnError)
	in := fs.String("in", "", "input container")
	out := fs.String("out", "", "output PNG")
	size := fs.Uint("size", 256, "preview bounding box, pixels")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("missing required --in or --out")
	}

	f, err := os.Open(filepath.Clean(*in))
	if err != nil {
		return err
	}
	defer f.Close()
	img, err := gounci.Decode(f)
	if err != nil {
		return err
	}
	thumb := resize.Thumbnail(*size, *size, img, resize.Bilinear)
	return writePNG(*out, thumb)
}

func buildContainer(enc *unci.EncodedImage) ([]byte, error) {
	b := unci.NewBuilder()
	if _, err := b.AddImage(enc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := b.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// testScene renders smooth gradients so every pattern cell sees a
// distinct, reproducible sample: red tracks x, green tracks y, blue
// their sum.
func testScene(width, height, depth int) *unci.RGBImage {
	rgb := unci.NewRGBImage(width, height, depth)
	max := uint64(1)<<uint(depth) - 1
	dx, dy := uint64(width-1), uint64(height-1)
	if dx < 1 {
		dx = 1
	}
	if dy < 1 {
		dy = 1
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint16(uint64(x) * max / dx)
			g := uint16(uint64(y) * max / dy)
			b := uint16((uint64(x) + uint64(y)) * max / (dx + dy))
			rgb.SetRGB(x, y, r, g, b)
		}
	}
	return rgb
}

// rgbFromImage flattens any raster into the 8-bit interleaved buffer
// mosaic synthesis expects.
func rgbFromImage(src image.Image) *unci.RGBImage {
	bounds := src.Bounds()
	rgb := unci.NewRGBImage(bounds.Dx(), bounds.Dy(), 8)
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb.SetRGB(x, y, uint16(r>>8), uint16(g>>8), uint16(b>>8))
		}
	}
	return rgb
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), buf.Bytes(), 0o644)
}
