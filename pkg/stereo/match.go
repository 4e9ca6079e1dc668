package stereo

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r2"
	"gopkg.in/yaml.v2"
)

/* Example match file ...

left-image: run/out-L-cropped.tif
right-image: run/out-R-cropped.tif
pairs:
- [512.25, 130.5, 498.75, 131]
- [1020, 877.5, 1003.5, 880.25]

*/

// A MatchFile is the on-disk record of the correspondences for a pair
// of images; each pair is [left x, left y, right x, right y].
type MatchFile struct {
	LeftImage  string       `yaml:"left-image"`
	RightImage string       `yaml:"right-image"`
	Pairs      [][4]float64 `yaml:"pairs"`
}

func NewMatchFile(left, right string, pairs []InterestPointPair) MatchFile {
	mf := MatchFile{LeftImage: left, RightImage: right, Pairs: make([][4]float64, len(pairs))}
	for i, p := range pairs {
		mf.Pairs[i] = [4]float64{p.Left.X, p.Left.Y, p.Right.X, p.Right.Y}
	}
	return mf
}

func (mf MatchFile) InterestPointPairs() []InterestPointPair {
	pairs := make([]InterestPointPair, len(mf.Pairs))
	for i, p := range mf.Pairs {
		pairs[i] = InterestPointPair{Left: r2.Point{X: p[0], Y: p[1]}, Right: r2.Point{X: p[2], Y: p[3]}}
	}
	return pairs
}

// MatchFilename names the match file after the two images it relates,
// e.g. "out-left__right.match".
func MatchFilename(prefix, leftImage, rightImage string) string {
	return fmt.Sprintf("%s-%s__%s.match", prefix, stem(leftImage), stem(rightImage))
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteMatchFile writes mf next to its final name first, then renames
// it into place.
func WriteMatchFile(filename string, mf MatchFile) error {
	b, err := yaml.Marshal(mf)
	if err != nil {
		return fmt.Errorf("match yaml: %v", err)
	}
	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write '%s': %v", tmp, err)
	}
	err = f.Close()
	if err == nil {
		err = os.Chmod(tmp, 0644)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close '%s': %v", tmp, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename '%s': %v", filename, err)
	}
	return nil
}

func ReadMatchFile(filename string) (MatchFile, error) {
	mf := MatchFile{}
	if contents, err := ioutil.ReadFile(filename); err != nil {
		return mf, fmt.Errorf("match read '%s': %v", filename, err)
	} else if err := yaml.Unmarshal(contents, &mf); err != nil {
		return mf, fmt.Errorf("match parse '%s': %v", filename, err)
	}
	return mf, nil
}

// isFresh is true if filename exists and is newer than all the others.
func isFresh(filename string, others ...string) bool {
	st, err := os.Stat(filename)
	if err != nil {
		return false
	}
	for _, o := range others {
		ost, err := os.Stat(o)
		if err != nil || !st.ModTime().After(ost.ModTime()) {
			return false
		}
	}
	return true
}

// MatchFileMatcher is a matcher that doesn't do any matching: it hands
// back pairs that some other tool already found and wrote to Path.
type MatchFileMatcher struct {
	Path string
}

func (m MatchFileMatcher) Match(ctx context.Context, req MatchRequest) ([]InterestPointPair, error) {
	mf, err := ReadMatchFile(m.Path)
	if err != nil {
		return nil, err
	}
	return mf.InterestPointPairs(), nil
}
