package geometry

import (
	iface "TrackAlarm/interface"
	"fmt"
	"math"
)

// ComputeTransform maps a srcW x srcH image onto a dstW x dstH one, rotating
// about the source centre. Without maintainAspect each axis is scaled
// independently; with it the smaller of the two scales is used so the
// rotated source is letterboxed.
func ComputeTransform(srcW, srcH, dstW, dstH, rotation int, maintainAspect bool) (Matrix, error) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Matrix{}, fmt.Errorf("%w: src %dx%d dst %dx%d", ErrDegenerate, srcW, srcH, dstW, dstH)
	}
	m := Identity().
		PostTranslate(-float64(srcW)/2, -float64(srcH)/2).
		PostRotate(float64(rotation))

	inW, inH := srcW, srcH
	if transposes(rotation) {
		inW, inH = srcH, srcW
	}
	sx := float64(dstW) / float64(inW)
	sy := float64(dstH) / float64(inH)
	if maintainAspect {
		s := math.Min(sx, sy)
		sx, sy = s, s
	}
	m = m.PostScale(sx, sy).
		PostTranslate(float64(dstW)/2, float64(dstH)/2)
	return m, nil
}

func transposes(rotation int) bool {
	r := rotation
	if r < 0 {
		r = -r
	}
	return (r+90)%180 == 0
}

// CropTransforms holds the per-session frame<->crop mapping.
type CropTransforms struct {
	FrameToCrop Matrix
	CropToFrame Matrix
	CropSize    int
}

func NewCropTransforms(cfg iface.FrameConfiguration, cropSize int, maintainAspect bool) (CropTransforms, error) {
	f2c, err := ComputeTransform(cfg.Width, cfg.Height, cropSize, cropSize, cfg.SensorOrientation, maintainAspect)
	if err != nil {
		return CropTransforms{}, err
	}
	c2f, err := f2c.Invert()
	if err != nil {
		return CropTransforms{}, fmt.Errorf("frame to crop: %w", err)
	}
	return CropTransforms{FrameToCrop: f2c, CropToFrame: c2f, CropSize: cropSize}, nil
}

// IdentityCropTransforms is used until a frame configuration arrives.
func IdentityCropTransforms(cropSize int) CropTransforms {
	return CropTransforms{FrameToCrop: Identity(), CropToFrame: Identity(), CropSize: cropSize}
}

// FrameToCanvas fits the rotated frame inside the canvas without cropping.
func FrameToCanvas(cfg iface.FrameConfiguration, canvasW, canvasH int) (Matrix, error) {
	if !cfg.Valid() || canvasW <= 0 || canvasH <= 0 {
		return Matrix{}, fmt.Errorf("%w: frame %dx%d canvas %dx%d", ErrDegenerate, cfg.Width, cfg.Height, canvasW, canvasH)
	}
	rotated := ((cfg.SensorOrientation%180)+180)%180 == 90
	w, h := float64(cfg.Width), float64(cfg.Height)
	if rotated {
		w, h = h, w
	}
	multiplier := math.Min(float64(canvasH)/h, float64(canvasW)/w)
	dstW := int(multiplier * w)
	dstH := int(multiplier * h)
	return ComputeTransform(cfg.Width, cfg.Height, dstW, dstH, cfg.SensorOrientation, false)
}
