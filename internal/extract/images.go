package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Image is one raster image embedded in a PDF page.
type Image struct {
	// PageNum is the 1-based page the image is drawn on.
	PageNum int
	// Index is the image's position on its page, ordered by object number.
	Index int
	// ObjNr is the PDF object number of the image XObject.
	ObjNr int
	// Ext is the file extension matching Data ("png", "jpg", "tif", ...).
	Ext  string
	Data []byte
}

// FigureID returns the page-local figure identifier "f{index}".
func (im Image) FigureID() string { return "f" + strconv.Itoa(im.Index) }

// Fingerprint returns the first 10 hex characters of the sha1 of the image
// bytes. It changes whenever the image content changes.
func (im Image) Fingerprint() string {
	sum := sha1.Sum(im.Data)
	return hex.EncodeToString(sum[:])[:10]
}

// FigureUID formats the globally unique figure identifier
// "doc_id:page_num:figure_id:fingerprint".
func FigureUID(docID int64, im Image) string {
	return fmt.Sprintf("%d:%d:%s:%s", docID, im.PageNum, im.FigureID(), im.Fingerprint())
}

// FigureFileName returns the on-disk name of a figure: its uid with ':'
// replaced by '_' plus the image extension.
func FigureFileName(uid, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return strings.ReplaceAll(uid, ":", "_") + "." + ext
}

// pdfConfig returns the relaxed pdfcpu configuration used for reading
// scientific PDFs, which are often slightly malformed.
func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Images extracts the embedded raster images of pages 1..lastPage of the PDF
// at path, grouped by page number. Images are ordered by object number
// within a page; empty images are dropped.
func Images(path string, lastPage int) (pages map[int][]Image, err error) {
	if lastPage < 1 {
		return map[int][]Image{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open %s for images: %w", path, err)
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: images of %s: corrupt or unsupported PDF: %v", path, r)
		}
	}()

	selected := []string{"1-" + strconv.Itoa(lastPage)}
	pages = make(map[int][]Image)
	digest := func(img model.Image, _ bool, _ int) error {
		data, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("read image obj %d on page %d: %w", img.ObjNr, img.PageNr, err)
		}
		if len(data) == 0 {
			return nil
		}
		pages[img.PageNr] = append(pages[img.PageNr], Image{
			PageNum: img.PageNr,
			ObjNr:   img.ObjNr,
			Ext:     strings.ToLower(img.FileType),
			Data:    data,
		})
		return nil
	}
	if err := api.ExtractImages(f, selected, digest, pdfConfig()); err != nil {
		return nil, fmt.Errorf("extract: images of %s: %w", path, err)
	}

	for n, imgs := range pages {
		sort.SliceStable(imgs, func(i, j int) bool { return imgs[i].ObjNr < imgs[j].ObjNr })
		for i := range imgs {
			imgs[i].Index = i
		}
		pages[n] = imgs
	}
	return pages, nil
}
