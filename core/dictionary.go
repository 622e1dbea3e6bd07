package core

import (
	"sort"
	"strconv"
	"sync"

	"stepmulti/protocol"
)

// Dictionary publishes the command set and firmware constants to the host
// as a JSON document, fetched in chunks through the identify command.
type Dictionary struct {
	mu         sync.RWMutex
	constants  map[string]string
	commandReg *CommandRegistry
	version    string
	cached     []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over cmdReg
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:  make(map[string]string),
		commandReg: cmdReg,
		version:    protocol.Version,
	}
}

// GetGlobalDictionary returns the firmware dictionary
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value string) {
	globalDictionary.AddConstant(name, value)
}

// AddConstant adds or replaces a constant and drops the cached document
func (d *Dictionary) AddConstant(name string, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

// BuildDictionary renders and caches the document. Call it once all
// commands are registered.
func (d *Dictionary) BuildDictionary() {
	commands := d.commandReg.All()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(commands)
	DebugPrintln("[DICT] built, " + itoa(len(d.cached)) + " bytes")
}

// Generate returns the JSON document, rendering it if not cached
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	d.BuildDictionary()
	return d.Generate()
}

// GetChunk returns up to count bytes of the document starting at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	doc := d.Generate()
	if offset >= uint32(len(doc)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(doc)) {
		end = uint32(len(doc))
	}
	return doc[offset:end]
}

// render builds the JSON by hand; encoding/json reflection is costly in
// the firmware image. Caller holds d.mu.
func (d *Dictionary) render(all []*Command) []byte {
	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = strconv.AppendQuote(out, d.version)
	out = append(out, `,"config":{`...)

	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, name)
		out = append(out, ':')
		out = strconv.AppendQuote(out, d.constants[name])
	}

	out = append(out, `},"commands":{`...)
	out = appendEntries(out, all, true)
	out = append(out, `},"responses":{`...)
	out = appendEntries(out, all, false)
	return append(out, "}}"...)
}

func appendEntries(out []byte, all []*Command, commands bool) []byte {
	first := true
	for _, cmd := range all {
		if (cmd.Handler != nil) != commands {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = strconv.AppendQuote(out, cmd.Signature())
		out = append(out, ':')
		out = strconv.AppendInt(out, int64(cmd.ID), 10)
	}
	return out
}
