package codec_test

import (
	"fmt"

	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/amf/codec"
)

func ExampleEncode() {
	obj := amf.NewObject(
		amf.Property{Name: "name", Value: amf.String("Jeff")},
		amf.Property{Name: "age", Value: amf.Number(4)},
	)
	for _, version := range []amf.Version{amf.Version0, amf.Version3} {
		b, err := codec.Encode(obj, version)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("AMF%d [% x]\n", version, b)
	}
	// Output:
	// AMF0 [03 00 04 6e 61 6d 65 02 00 04 4a 65 66 66 00 03 61 67 65 00 40 10 00 00 00 00 00 00 00 00 09]
	// AMF3 [0a 23 01 09 6e 61 6d 65 07 61 67 65 06 09 4a 65 66 66 05 40 10 00 00 00 00 00 00]
}

func ExampleDecode() {
	b := []byte{0x02, 0x00, 0x07, 'c', 'o', 'n', 'n', 'e', 'c', 't'}
	v, n, err := codec.Decode(b, amf.Version0, amf.DecodeOptions{})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%s %q (%d bytes)\n", v.Type(), v, n)
	// Output:
	// string "connect" (10 bytes)
}
