package collector

import "strings"

var (
	jobNameReplacer  = strings.NewReplacer(" ", "", "(", "", ")", "", `"`, "", "/", "-", `\`, "-")
	testNameReplacer = strings.NewReplacer(" ", "", "/", "-", `\`, "-")
)

// JobDirName returns the directory name for a job, e.g. "Pixel 6 (API 31)"
// becomes "Pixel6API31".
func JobDirName(name string) string {
	return safeElem(jobNameReplacer.Replace(name), "job")
}

// TestFileName returns "<test>.<ext>" with spaces removed from the test name.
func TestFileName(name, ext string) string {
	base, dotExt := testFileParts(name, ext)
	return base + dotExt
}

func testFileParts(name, ext string) (base, dotExt string) {
	base = safeElem(testNameReplacer.Replace(name), "test")
	ext = strings.TrimPrefix(testNameReplacer.Replace(ext), ".")
	if ext == "" {
		return base, ""
	}
	return base, "." + ext
}

// safeElem keeps s from naming the current or parent directory.
func safeElem(s, fallback string) string {
	if strings.Trim(s, ".") == "" {
		return fallback
	}
	return s
}
