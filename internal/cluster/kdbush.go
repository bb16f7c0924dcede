package cluster

import "math"

// kdbush is a flat, static kd-tree over 2D points. Built once per zoom level
// and queried with axis-aligned range and radius searches. Indices returned
// by queries refer to the entry slice the tree was built from.
type kdbush struct {
	nodeSize int
	ids      []int
	coords   []float64 // interleaved x,y
}

func newKDBush(entries []*entry, nodeSize int) *kdbush {
	n := len(entries)
	b := &kdbush{
		nodeSize: nodeSize,
		ids:      make([]int, n),
		coords:   make([]float64, 2*n),
	}
	for i, e := range entries {
		b.ids[i] = i
		b.coords[2*i] = e.x
		b.coords[2*i+1] = e.y
	}
	sortKD(b.ids, b.coords, nodeSize, 0, n-1, 0)
	return b
}

// rangeIDs returns indices of all points inside the bounding box.
func (b *kdbush) rangeIDs(minX, minY, maxX, maxY float64) []int {
	var result []int
	if len(b.ids) == 0 {
		return result
	}

	// Stack of [left, right, axis] segments.
	stack := [][3]int{{0, len(b.ids) - 1, 0}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		left, right, axis := seg[0], seg[1], seg[2]

		if right-left <= b.nodeSize {
			for i := left; i <= right; i++ {
				x, y := b.coords[2*i], b.coords[2*i+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, b.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := b.coords[2*m], b.coords[2*m+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, b.ids[m])
		}

		var goLeft, goRight bool
		if axis == 0 {
			goLeft = minX <= x
			goRight = maxX >= x
		} else {
			goLeft = minY <= y
			goRight = maxY >= y
		}
		if goLeft {
			stack = append(stack, [3]int{left, m - 1, 1 - axis})
		}
		if goRight {
			stack = append(stack, [3]int{m + 1, right, 1 - axis})
		}
	}
	return result
}

// within returns indices of all points within radius r of (qx, qy).
func (b *kdbush) within(qx, qy, r float64) []int {
	var result []int
	if len(b.ids) == 0 {
		return result
	}
	r2 := r * r

	stack := [][3]int{{0, len(b.ids) - 1, 0}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		left, right, axis := seg[0], seg[1], seg[2]

		if right-left <= b.nodeSize {
			for i := left; i <= right; i++ {
				if sqDist(b.coords[2*i], b.coords[2*i+1], qx, qy) <= r2 {
					result = append(result, b.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := b.coords[2*m], b.coords[2*m+1]
		if sqDist(x, y, qx, qy) <= r2 {
			result = append(result, b.ids[m])
		}

		var goLeft, goRight bool
		if axis == 0 {
			goLeft = qx-r <= x
			goRight = qx+r >= x
		} else {
			goLeft = qy-r <= y
			goRight = qy+r >= y
		}
		if goLeft {
			stack = append(stack, [3]int{left, m - 1, 1 - axis})
		}
		if goRight {
			stack = append(stack, [3]int{m + 1, right, 1 - axis})
		}
	}
	return result
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}

func sortKD(ids []int, coords []float64, nodeSize, left, right, axis int) {
	if right-left <= nodeSize {
		return
	}
	m := (left + right) >> 1
	selectKD(ids, coords, m, left, right, axis)
	sortKD(ids, coords, nodeSize, left, m-1, 1-axis)
	sortKD(ids, coords, nodeSize, m+1, right, 1-axis)
}

// selectKD partially sorts so the element at index k is the axis-median of
// [left, right] (Floyd-Rivest selection).
func selectKD(ids []int, coords []float64, k, left, right, axis int) {
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m-n/2 < 0 {
				sd = -sd
			}
			newLeft := maxInt(left, int(float64(k)-m*s/n+sd))
			newRight := minInt(right, int(float64(k)+(n-m)*s/n+sd))
			selectKD(ids, coords, k, newLeft, newRight, axis)
		}

		t := coords[2*k+axis]
		i := left
		j := right

		swapItem(ids, coords, left, k)
		if coords[2*right+axis] > t {
			swapItem(ids, coords, left, right)
		}

		for i < j {
			swapItem(ids, coords, i, j)
			i++
			j--
			for coords[2*i+axis] < t {
				i++
			}
			for coords[2*j+axis] > t {
				j--
			}
		}

		if coords[2*left+axis] == t {
			swapItem(ids, coords, left, j)
		} else {
			j++
			swapItem(ids, coords, j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func swapItem(ids []int, coords []float64, i, j int) {
	ids[i], ids[j] = ids[j], ids[i]
	coords[2*i], coords[2*j] = coords[2*j], coords[2*i]
	coords[2*i+1], coords[2*j+1] = coords[2*j+1], coords[2*i+1]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
