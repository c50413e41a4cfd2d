package dut

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultBuildDir is the build directory, relative to the app path, used
// when none is configured.
const DefaultBuildDir = "build"

// FlashFile is one image written at a flash offset.
type FlashFile struct {
	Offset    uint32
	Path      string
	Encrypted bool
}

// FlashSettings are the flash chip parameters the app was built for.
type FlashSettings struct {
	Mode    string
	Freq    string
	Size    string
	Encrypt bool
}

// Partition is one entry of the app's partition table.
type Partition struct {
	Name    string
	Type    uint8
	SubType uint8
	Offset  uint32
	Size    uint32
	Flags   uint32
}

// App describes the firmware under test. Fields that could not be
// resolved are left empty; an App without a binary is valid.
type App struct {
	AppPath    string
	BinaryPath string
	Target     string
	ElfFile    string
	BinFile    string

	FlashFiles    []FlashFile
	FlashSettings FlashSettings
	Partitions    []Partition
	SDKConfig     map[string]string
}

// NewApp resolves appPath (the working directory when empty) to its real
// path and locates buildDir, either absolute or relative to the app path.
func NewApp(appPath, buildDir string) (*App, error) {
	if appPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		appPath = wd
	}
	abs, err := filepath.Abs(appPath)
	if err != nil {
		return nil, fmt.Errorf("resolving app path: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	a := &App{AppPath: abs}
	if buildDir == "" {
		buildDir = DefaultBuildDir
	}
	if !filepath.IsAbs(buildDir) {
		buildDir = filepath.Join(abs, buildDir)
	}
	if fi, err := os.Stat(buildDir); err == nil && fi.IsDir() {
		a.BinaryPath = buildDir
	}
	return a, nil
}

// Flashable reports whether the app has anything to write to flash.
func (a *App) Flashable() bool {
	return a != nil && (len(a.FlashFiles) > 0 || a.BinFile != "")
}

// SortedFlashFiles returns the flash files ordered by offset.
func (a *App) SortedFlashFiles() []FlashFile {
	files := append([]FlashFile(nil), a.FlashFiles...)
	sort.Slice(files, func(i, j int) bool { return files[i].Offset < files[j].Offset })
	return files
}

// EncryptFiles returns the flash files that must be written encrypted.
func (a *App) EncryptFiles() []FlashFile {
	var out []FlashFile
	for _, f := range a.SortedFlashFiles() {
		if f.Encrypted || a.FlashSettings.Encrypt {
			out = append(out, f)
		}
	}
	return out
}

// Partition returns the partition called name.
func (a *App) Partition(name string) (Partition, bool) {
	for _, p := range a.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// Config returns the sdkconfig value of key without its CONFIG_ prefix.
func (a *App) Config(key string) (string, bool) {
	v, ok := a.SDKConfig[key]
	return v, ok
}
