package imgproc

import (
	"TrackAlarm/geometry"
	iface "TrackAlarm/interface"
	"image"

	"gocv.io/x/gocv"
)

// Cropper resamples frames into the model input with WarpAffine.
type Cropper struct{}

func (Cropper) Crop(frame iface.ImageData, frameToCrop geometry.Matrix, cropSize int) (iface.ImageData, error) {
	src, err := ToMat(frame)
	if err != nil {
		return iface.ImageData{}, err
	}
	defer src.Close()

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	a := frameToCrop.Affine()
	for i, v := range a {
		m.SetDoubleAt(i/3, i%3, v)
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffine(src, &dst, m, image.Pt(cropSize, cropSize))
	return FromMat(dst), nil
}
