// Command kpdetect detects keypoints on an image and writes them as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"

	"kpmatch/internal/detect"
	"kpmatch/internal/kpio"
	"kpmatch/internal/render"
	"kpmatch/internal/version"
)

func main() {
	in := flag.String("i", "", "Input image (png, jpeg, tiff, bmp)")
	out := flag.String("o", "", "Output keypoint file (default: <image>.kp.json)")
	id := flag.Int("id", 0, "Model ID stored in the file")
	threshold := flag.Int("t", 0, "Minimum detector response")
	upright := flag.Bool("upright", false, "Skip orientation assignment")
	maxFeatures := flag.Int("n", detect.DefaultOptions().MaxFeatures, "Maximum number of keypoints")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("kpdetect"))
		return
	}
	if *in == "" {
		fmt.Println("Usage: kpdetect -i <image> [-o out.json] [-id N] [-t threshold] [-upright]")
		os.Exit(1)
	}
	if *out == "" {
		*out = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".kp.json"
	}

	logger := golog.NewDevelopmentLogger("kpdetect")

	img, err := render.Load(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}

	opts := detect.DefaultOptions()
	opts.ID = *id
	opts.MaxFeatures = *maxFeatures
	det := detect.NewORBDetector(opts, logger)

	set, err := det.Detect(context.Background(), img, *threshold, *upright)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	if err := kpio.Save(*out, set, *in); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save keypoints: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d keypoints written to %s\n", set.Len(), *out)
}
