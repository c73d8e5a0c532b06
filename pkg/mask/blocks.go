package mask

// BlockIDs labels a width x height grid with square blocks of side blockSize,
// numbered row-major. Edge blocks may be smaller. It returns the labels and
// the number of blocks.
func BlockIDs(width, height, blockSize int) ([]int, int) {
	if blockSize < 1 {
		blockSize = 1
	}
	by := (height + blockSize - 1) / blockSize
	bx := (width + blockSize - 1) / blockSize
	ids := make([]int, width*height)
	for y := 0; y < height; y++ {
		row := (y / blockSize) * bx
		for x := 0; x < width; x++ {
			ids[y*width+x] = row + x/blockSize
		}
	}
	return ids, by * bx
}
