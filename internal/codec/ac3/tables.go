package ac3

// Tables from ATSC A/52.

var sampleRates = [3]int{48000, 44100, 32000}

// bitRates in kbit/s, indexed by frmsizecod>>1.
var bitRates = [19]int{
	32, 40, 48, 56, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 320, 384, 448, 512, 576, 640,
}

// frameSizes in 16-bit words, indexed by [frmsizecod][fscod].
var frameSizes = [38][3]int{
	{64, 69, 96}, {64, 70, 96},
	{80, 87, 120}, {80, 88, 120},
	{96, 104, 144}, {96, 105, 144},
	{112, 121, 168}, {112, 122, 168},
	{128, 139, 192}, {128, 140, 192},
	{160, 174, 240}, {160, 175, 240},
	{192, 208, 288}, {192, 209, 288},
	{224, 243, 336}, {224, 244, 336},
	{256, 278, 384}, {256, 279, 384},
	{320, 348, 480}, {320, 349, 480},
	{384, 417, 576}, {384, 418, 576},
	{448, 487, 672}, {448, 488, 672},
	{512, 557, 768}, {512, 558, 768},
	{640, 696, 960}, {640, 697, 960},
	{768, 835, 1152}, {768, 836, 1152},
	{896, 975, 1344}, {896, 976, 1344},
	{1024, 1114, 1536}, {1024, 1115, 1536},
	{1152, 1253, 1728}, {1152, 1254, 1728},
	{1280, 1393, 1920}, {1280, 1394, 1920},
}

// channelCounts by acmod, excluding the LFE channel.
var channelCounts = [8]int{2, 1, 2, 3, 3, 4, 4, 5}

// blocksPerFrame by E-AC-3 numblkscod.
var blocksPerFrame = [4]int{1, 2, 3, 6}

// crcTable is the CRC-16 table for polynomial x^16+x^15+x^2+1.
var crcTable = makeCRCTable(0x8005)

func makeCRCTable(poly uint16) [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
