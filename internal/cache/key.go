package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/buckleypaul/dutkit/dut"
)

// AppKey identifies the flashed content of app: its path and a BLAKE3
// hash over every image it writes, with their offsets. Apps without a
// binary have no key.
func AppKey(app *dut.App) (string, error) {
	if !app.Flashable() {
		return "", nil
	}
	h := blake3.New()
	files := app.SortedFlashFiles()
	if len(files) == 0 {
		files = []dut.FlashFile{{Path: app.BinFile}}
	}
	for _, f := range files {
		fmt.Fprintf(h, "%#x:", f.Offset)
		if err := hashFile(h, f.Path); err != nil {
			return "", err
		}
	}
	return app.AppPath + "@" + hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hashing app image: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
