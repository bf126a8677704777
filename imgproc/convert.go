package imgproc

import (
	iface "TrackAlarm/interface"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

func matType(channels int32) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	case 4:
		return gocv.MatTypeCV8UC4, nil
	}
	return 0, fmt.Errorf("unsupported channel count %d", channels)
}

// ToMat wraps img in a new Mat. The caller closes it.
func ToMat(img iface.ImageData) (gocv.Mat, error) {
	mt, err := matType(img.Channels)
	if err != nil {
		return gocv.NewMat(), err
	}
	want := int(img.Width) * int(img.Height) * int(img.Channels)
	if len(img.Data) != want {
		return gocv.NewMat(), fmt.Errorf("image buffer is %d bytes, want %d", len(img.Data), want)
	}
	return gocv.NewMatFromBytes(int(img.Height), int(img.Width), mt, img.Data)
}

func FromMat(m gocv.Mat) iface.ImageData {
	return iface.ImageData{
		Data:     m.ToBytes(),
		Width:    int32(m.Cols()),
		Height:   int32(m.Rows()),
		Channels: int32(m.Channels()),
	}
}

// DecodeImage turns an encoded JPEG/PNG into a BGR pixel buffer.
func DecodeImage(buf []byte) (iface.ImageData, error) {
	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return iface.ImageData{}, err
	}
	defer mat.Close()
	if mat.Empty() {
		return iface.ImageData{}, errors.New("decoded image is empty or unsupported format")
	}
	return FromMat(mat), nil
}

// EncodeJPEG encodes a pixel buffer, mainly for the overlay endpoint.
func EncodeJPEG(img iface.ImageData) ([]byte, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
