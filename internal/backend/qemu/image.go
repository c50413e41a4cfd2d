package qemu

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/buckleypaul/dutkit/dut"
)

// DefaultFlashSize is the image size used when the app does not name one.
const DefaultFlashSize = 4 << 20

// MakeImage writes every flash file of app at its offset into a single
// image at path, padded to the app's flash size. Gaps read as zeros.
func MakeImage(app *dut.App, path string) error {
	files := app.SortedFlashFiles()
	if len(files) == 0 {
		return errors.New("app has no flash files")
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	var end int64
	for _, f := range files {
		if f.Encrypted || app.FlashSettings.Encrypt {
			return fmt.Errorf("%s: encrypted images are not supported", f.Path)
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return err
		}
		if _, err := out.WriteAt(data, int64(f.Offset)); err != nil {
			return err
		}
		end = max(end, int64(f.Offset)+int64(len(data)))
	}
	size := flashSize(app.FlashSettings.Size)
	if end > size {
		return fmt.Errorf("image is %d bytes, larger than the %d byte flash", end, size)
	}
	if err := out.Truncate(size); err != nil {
		return err
	}
	return out.Close()
}

// flashSize parses sizes such as "4MB".
func flashSize(s string) int64 {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.ToUpper(s), "MB"))
	if err != nil || n <= 0 {
		return DefaultFlashSize
	}
	return int64(n) << 20
}
