package degrade

import (
	"context"
	"fmt"
	"os/exec"

	"gopkg.in/gographics/imagick.v3/imagick"

	"faceprep/internal/config"
)

// ImagickProcessor runs the presets through the ImageMagick library. It is
// only selected when the convert binary (and thus the MagickWand runtime) is
// installed on the host.
type ImagickProcessor struct{}

func (p *ImagickProcessor) Name() string { return "imagemagick" }

func (p *ImagickProcessor) IsAvailable() bool {
	return commandExists("convert") || commandExists("magick")
}

func (p *ImagickProcessor) Apply(ctx context.Context, req Request) (Result, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(req.InputPath); err != nil {
		return Result{}, fmt.Errorf("read %s: %w", req.InputPath, err)
	}

	switch req.Preset.Type {
	case config.PresetGaussianBlur:
		if err := mw.GaussianBlurImage(0, req.Preset.Sigma); err != nil {
			return Result{}, fmt.Errorf("gaussian blur: %w", err)
		}
	case config.PresetJPEG:
		blob, err := recompressBlob(mw, req.Preset.Quality)
		if err != nil {
			return Result{}, fmt.Errorf("jpeg recompress: %w", err)
		}
		if err := mw.ReadImageBlob(blob); err != nil {
			return Result{}, fmt.Errorf("jpeg reload: %w", err)
		}
	case config.PresetGaussianNoise:
		mw.SetImageChannelMask(imagick.CHANNELS_RGB)
		if err := mw.AddNoiseImage(imagick.NOISE_GAUSSIAN, req.Preset.Sigma/255.0); err != nil {
			return Result{}, fmt.Errorf("gaussian noise: %w", err)
		}
	default:
		return Result{}, fmt.Errorf("unsupported degradation type %q for preset %q",
			req.Preset.Type, req.Preset.Name)
	}

	size := TargetSize(req.Preset, req.OutputSize)
	if size > 0 && (int(mw.GetImageWidth()) != size || int(mw.GetImageHeight()) != size) {
		if err := mw.ResizeImage(uint(size), uint(size), imagick.FILTER_CATROM); err != nil {
			return Result{}, fmt.Errorf("resize: %w", err)
		}
	}

	if err := mw.SetImageCompressionQuality(OutputQuality); err != nil {
		return Result{}, err
	}
	if err := mw.WriteImage(req.OutputPath); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", req.OutputPath, err)
	}

	return Result{
		OutputPath: req.OutputPath,
		Width:      int(mw.GetImageWidth()),
		Height:     int(mw.GetImageHeight()),
		ToolUsed:   p.Name(),
	}, nil
}

// recompressBlob serializes the wand's image as JPEG at the preset quality so
// the artifacts survive into the final output.
func recompressBlob(mw *imagick.MagickWand, quality int) ([]byte, error) {
	clone := mw.Clone()
	defer clone.Destroy()

	if err := clone.SetImageFormat("JPEG"); err != nil {
		return nil, err
	}
	if err := clone.SetImageCompressionQuality(uint(quality)); err != nil {
		return nil, err
	}
	blob, err := clone.GetImageBlob()
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
