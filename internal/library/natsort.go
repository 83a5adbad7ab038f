package library

// naturalLess orders strings treating runs of digits as numbers, so
// "page2.jpg" sorts before "page10.jpg". Digit runs are compared by value
// (leading zeros ignored for magnitude, shorter run wins ties so the order
// stays total); everything else compares bytewise.
func naturalLess(a, b string) bool {
	return naturalCompare(a, b) < 0
}

func naturalCompare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			ia, na := digitRun(a, i)
			ib, nb := digitRun(b, j)
			if c := compareNumeric(a[ia:i+na], b[ib:j+nb]); c != 0 {
				return c
			}
			i += na
			j += nb
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	}
	return 0
}

// digitRun returns the start of the digit run at position i and its length.
func digitRun(s string, i int) (start, n int) {
	start = i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return start, i - start
}

// compareNumeric compares two digit strings by numeric value without
// overflow, falling back to the longer (more zero-padded) string on ties to
// keep distinct names distinct.
func compareNumeric(a, b string) int {
	ta := trimZeros(a)
	tb := trimZeros(b)
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	// same value; fewer leading zeros first
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return 0
}

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
