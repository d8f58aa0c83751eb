// Package sig implements the signature generation and matching commands.
package sig

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apex/log"
	"github.com/blakesmith/ar"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/fingerprint"
	"github.com/blacktop/sigkit/pkg/signature"
)

// Config controls signature generation.
type Config struct {
	// Platform overrides the platform derived from the binary.
	Platform string

	// KeepUnnamed includes functions with auto-generated names.
	KeepUnnamed bool

	// Progress renders a progress bar during bulk generation.
	Progress bool
}

var archiveExts = map[string]bool{
	".a":    true,
	".lib":  true,
	".rlib": true,
}

// DefaultOutput derives the bundle path for an input: the final extension
// is replaced, so mylib.a becomes mylib.sbin. Extensionless inputs and
// directories just gain the extension.
func DefaultOutput(path string) string {
	path = strings.TrimSuffix(path, "/")
	return strings.TrimSuffix(path, filepath.Ext(path)) + signature.Ext
}

// DataFromPath creates signature data for a path that may be a binary, a
// directory (all contained files merged), a static archive (members
// extracted and merged), or an existing bundle (passthrough).
func DataFromPath(path string, conf *Config) (*signature.Data, error) {
	if fi, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %v", path, err)
	} else if fi.IsDir() {
		return dataFromDirectory(path, conf)
	}
	switch ext := filepath.Ext(path); {
	case archiveExts[ext]:
		return dataFromArchive(path, conf)
	case ext == signature.Ext:
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %v", path, err)
		}
		return signature.FromBytes(contents)
	default:
		return dataFromBinary(path, conf)
	}
}

func dataFromBinary(path string, conf *Config) (*signature.Data, error) {
	img, err := disass.NewImage(path, conf.Platform)
	if err != nil {
		return nil, err
	}
	return DataFromImage(img, conf), nil
}

// DataFromImage fingerprints every (named) function in the image in
// parallel and collects the type descriptors they reference.
func DataFromImage(img *disass.Image, conf *Config) *signature.Data {
	var funcs []disass.Function
	for _, fn := range img.Functions() {
		if !conf.KeepUnnamed && strings.HasPrefix(fn.Symbol().Name, "sub_") {
			continue
		}
		funcs = append(funcs, fn)
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if conf.Progress && len(funcs) > 0 {
		p = mpb.New(mpb.WithWidth(60))
		bar = p.New(int64(len(funcs)),
			mpb.BarStyle(),
			mpb.PrependDecorators(
				decor.Name("generating "),
				decor.CountersNoUnit("%d/%d"),
			),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	cache := fingerprint.NewCache()
	results := make([]*signature.Function, len(funcs))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, fn := range funcs {
		g.Go(func() error {
			sf, err := cache.BuildFunction(fn)
			if err != nil {
				log.WithField("symbol", fn.Symbol().Name).WithError(err).Debug("failed to build signature function")
			} else {
				results[i] = &sf
			}
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	g.Wait()
	if p != nil {
		p.Wait()
	}

	data := &signature.Data{}
	seen := make(map[signature.GUID]bool)
	for _, sf := range results {
		if sf == nil {
			continue
		}
		data.Functions = append(data.Functions, *sf)
		if sf.Type != nil {
			ct := signature.NewComputedType(sf.Type)
			if !seen[ct.GUID] {
				seen[ct.GUID] = true
				data.Types = append(data.Types, ct)
			}
		}
	}
	return data
}

// dataFromArchive extracts each member to a temporary location, processes
// members in parallel, merges the results, and re-derives constraint
// fingerprints that the member could not know in isolation.
func dataFromArchive(path string, conf *Config) (*signature.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %v", path, err)
	}
	defer f.Close()

	tmpDir, err := os.MkdirTemp("", "sigkit-archive")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	var members []string
	seen := make(map[string]bool)
	rdr := ar.NewReader(f)
	for {
		hdr, err := rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Error("failed to read archive entry")
			break
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if name == "" || name == "/" || strings.HasPrefix(name, "__.SYMDEF") {
			continue // archive symbol table, not a member
		}
		if seen[name] {
			log.WithField("entry", name).Debug("skipping already inserted entry")
			continue
		}
		seen[name] = true
		out := filepath.Join(tmpDir, filepath.Base(name))
		dst, err := os.Create(out)
		if err != nil {
			log.WithField("entry", name).WithError(err).Error("failed to create entry file")
			continue
		}
		if _, err := io.Copy(dst, rdr); err != nil {
			dst.Close()
			log.WithField("entry", name).WithError(err).Error("failed to read entry data")
			continue
		}
		dst.Close()
		members = append(members, out)
	}

	chunks := collect(members, conf)
	merged := signature.Merge(chunks)
	// Members were analyzed in isolation; their symbols are assumed weak.
	merged.ResolveGUIDs()
	return merged, nil
}

func dataFromDirectory(dir string, conf *Config) (*signature.Data, error) {
	var files []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %v", dir, err)
	}
	return signature.Merge(collect(files, conf)), nil
}

// collect processes independent inputs in parallel; a member that fails
// to read is logged and skipped, it never aborts the rest.
func collect(paths []string, conf *Config) []*signature.Data {
	chunks := make([]*signature.Data, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			log.WithField("path", path).Debug("creating signature data")
			data, err := DataFromPath(path, conf)
			if err != nil {
				log.WithField("path", path).WithError(err).Warn("skipping input")
				return nil
			}
			chunks[i] = data
			return nil
		})
	}
	g.Wait()
	return chunks
}
