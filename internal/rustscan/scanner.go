// Package rustscan analyzes Rust source text with the tree-sitter Rust
// grammar and counts language constructs split into safe and unsafe
// occurrences: free functions, methods, expressions, impl blocks, and
// trait declarations.
package rustscan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	rust "github.com/alexaandru/go-sitter-forest/rust"
	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/DCNick3/unsafe-track/internal/analysis"
)

// Grammar node types the scanner dispatches on.
const (
	nodeFunctionItem = "function_item"
	nodeImplItem     = "impl_item"
	nodeTraitItem    = "trait_item"
	nodeUnsafeBlock  = "unsafe_block"
	nodeModifiers    = "function_modifiers"
	unsafeKeyword    = "unsafe"

	// exprSuffix marks the expression node family of the Rust grammar.
	exprSuffix = "_expression"
)

// Sentinel errors for scanner failures.
var (
	// ErrLanguageUnavailable reports that the Rust grammar failed to load.
	ErrLanguageUnavailable = errors.New("rustscan: tree-sitter rust grammar unavailable")

	// ErrParse reports source text the grammar could not parse cleanly.
	ErrParse = errors.New("rustscan: source failed to parse")
)

var (
	languageOnce sync.Once
	language     *sitter.Language
)

// rustLanguage loads the grammar once, recovering from grammar loader
// panics.
func rustLanguage() *sitter.Language {
	languageOnce.Do(func() {
		defer func() {
			_ = recover() //nolint:errcheck // grammar loaders panic instead of erroring
		}()

		language = sitter.NewLanguage(rust.GetLanguage())
	})

	return language
}

// Scanner is an analysis.Analyzer over Rust source text. It is safe for
// concurrent use: each Analyze call borrows a parser from an internal
// pool.
type Scanner struct {
	parsers sync.Pool
}

// New creates a Scanner, loading the Rust grammar on first use.
func New() (*Scanner, error) {
	lang := rustLanguage()
	if lang == nil {
		return nil, ErrLanguageUnavailable
	}

	scanner := &Scanner{}
	scanner.parsers.New = func() any {
		parser := sitter.NewParser()
		parser.SetLanguage(lang)

		return parser
	}

	return scanner, nil
}

// Analyze parses text and walks the syntax tree tallying constructs.
// Unsafety propagates downward: everything inside an unsafe fn or an
// unsafe block counts as unsafe.
func (s *Scanner) Analyze(text string) (analysis.CounterBlock, error) {
	parser, ok := s.parsers.Get().(*sitter.Parser)
	if !ok {
		return analysis.CounterBlock{}, ErrLanguageUnavailable
	}

	defer s.parsers.Put(parser)

	tree, err := parser.ParseString(context.Background(), nil, []byte(text))
	if err != nil {
		return analysis.CounterBlock{}, fmt.Errorf("rustscan: parse: %w", err)
	}

	defer tree.Close()

	root := tree.RootNode()
	if root.IsNull() {
		return analysis.CounterBlock{}, ErrParse
	}

	if root.HasError() {
		return analysis.CounterBlock{}, ErrParse
	}

	var block analysis.CounterBlock

	walk(root, walkContext{}, &block)

	return block, nil
}

// walkContext is the inherited state of one subtree.
type walkContext struct {
	// inUnsafe is true inside an unsafe fn body or unsafe block.
	inUnsafe bool

	// inItemBody is true inside an impl or trait declaration list, where
	// functions count as methods.
	inItemBody bool
}

type walkFrame struct {
	node sitter.Node
	ctx  walkContext
}

// walk traverses the tree iteratively; nesting depth is attacker
// controlled, so no recursion on the call stack.
func walk(root sitter.Node, ctx walkContext, block *analysis.CounterBlock) {
	stack := []walkFrame{{node: root, ctx: ctx}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		childCtx := tally(frame.node, frame.ctx, block)

		for i := range frame.node.NamedChildCount() {
			stack = append(stack, walkFrame{node: frame.node.NamedChild(i), ctx: childCtx})
		}
	}
}

// tally counts one node and returns the context its children inherit.
func tally(node sitter.Node, ctx walkContext, block *analysis.CounterBlock) walkContext {
	childCtx := ctx

	switch nodeType := node.Type(); nodeType {
	case nodeFunctionItem:
		declaredUnsafe := hasUnsafeModifier(node)

		bucket := &block.Functions
		if ctx.inItemBody {
			bucket = &block.Methods
		}

		count(bucket, declaredUnsafe || ctx.inUnsafe)

		childCtx.inUnsafe = declaredUnsafe || ctx.inUnsafe
		childCtx.inItemBody = false
	case nodeImplItem:
		count(&block.ItemImpls, hasUnsafeModifier(node) || ctx.inUnsafe)

		childCtx.inItemBody = true
	case nodeTraitItem:
		count(&block.ItemTraits, hasUnsafeModifier(node) || ctx.inUnsafe)

		childCtx.inItemBody = true
	case nodeUnsafeBlock:
		// The unsafe block is itself a block expression.
		count(&block.Exprs, true)

		childCtx.inUnsafe = true
	default:
		if strings.HasSuffix(nodeType, exprSuffix) {
			count(&block.Exprs, ctx.inUnsafe)
		}
	}

	return childCtx
}

func count(c *analysis.Count, isUnsafe bool) {
	if isUnsafe {
		c.Unsafe++
	} else {
		c.Safe++
	}
}

// hasUnsafeModifier reports whether an item carries the unsafe keyword
// before its body. The keyword appears either as a direct anonymous
// child (impl, trait) or inside a function_modifiers node (fn).
func hasUnsafeModifier(node sitter.Node) bool {
	for i := range node.ChildCount() {
		child := node.Child(i)

		switch child.Type() {
		case unsafeKeyword:
			return true
		case nodeModifiers:
			for j := range child.ChildCount() {
				if child.Child(j).Type() == unsafeKeyword {
					return true
				}
			}
		}
	}

	return false
}
