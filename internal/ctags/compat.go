package ctags

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// coreKinds must all appear when the extractor parses compatSource.
// Different ctags builds rename kinds; catching that at startup beats
// silently indexing a half-empty symbol table.
var coreKinds = []string{
	"function",
	"prototype",
	"variable",
	"typedef",
	"macro",
	"member",
	"enumerator",
}

const compatSource = `
#define TEST_MACRO 1
typedef struct { int member_x; } test_struct_t;
typedef union { int u_val; } test_union_t;
typedef enum { ENUM_VAL = 0 } test_enum_t;
void test_func(void);
void test_func(void) {}
static int test_static_var = 0;
int test_global_var;
`

// VerifyCompatibility parses an embedded C snippet and checks the extractor
// reports the kind names the normalizer maps. Fails fast with install
// guidance when core kinds are missing; unexpected extra kinds only warn,
// since unknown kinds are stored as-is.
func (r *Runner) VerifyCompatibility(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "cindex-ctags-check-*")
	if err != nil {
		return fmt.Errorf("ctags check: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "check.c"), []byte(compatSource), 0o644); err != nil {
		return fmt.Errorf("ctags check: write sample: %w", err)
	}

	byFile, err := r.ExtractRoot(ctx, dir, []string{"check.c"})
	if err != nil {
		return fmt.Errorf("ctags check: %w (install Universal Ctags: apt install universal-ctags / brew install universal-ctags)", err)
	}

	observed := make(map[string]bool)
	for _, syms := range byFile {
		for _, sym := range syms {
			observed[sym.KindRaw] = true
		}
	}

	var missing []string
	for _, kind := range coreKinds {
		if !observed[kind] {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("ctags check: %s does not report core kinds %s; install Universal Ctags",
			r.Bin, strings.Join(missing, ", "))
	}

	known := make(map[string]bool, len(kindMap))
	for k := range kindMap {
		known[k] = true
	}
	var unexpected []string
	for kind := range observed {
		if !known[kind] {
			unexpected = append(unexpected, kind)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		log.Printf("warning: %s reported unexpected kinds %s; stored as-is", r.Bin, strings.Join(unexpected, ", "))
	}
	return nil
}
