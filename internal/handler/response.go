package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/world"
)

// Server → client opcodes of the login protocol.
const (
	opDisconnectLegacy byte = 0x0A
	opDisconnect       byte = 0x0B
	opTokenSuccess     byte = 0x0C
	opTokenRejected    byte = 0x0D
	opMOTD             byte = 0x14
	opSessionKey       byte = 0x28
	opCharacterList    byte = 0x64
)

// disconnectOpcodeVersion is the first client version using opDisconnect.
const disconnectOpcodeVersion = 1076

// maxCharacters is the most entries a one-byte count can announce.
const maxCharacters = 255

func disconnectOpcode(version uint16) byte {
	if version >= disconnectOpcodeVersion {
		return opDisconnect
	}
	return opDisconnectLegacy
}

// BuildDisconnect builds the rejection message shown by the client.
// Format: [C opcode][S message]
func BuildDisconnect(message string, version uint16) []byte {
	w := packet.NewWriterWithOpcode(disconnectOpcode(version))
	w.WriteS(message)
	return w.Bytes()
}

// worldEntry is the single world advertised in the list.
type worldEntry struct {
	Name string
	IP   string
	Port uint16
}

// characterWorld resolves where an account's characters live, honouring
// proxy routing.
func characterWorld(cfg *config.Config, proxyID uint16) worldEntry {
	if p, ok := cfg.ProxyInfo(proxyID); ok {
		return worldEntry{
			Name: fmt.Sprintf("%s - %s", cfg.Server.Name, p.Name),
			IP:   p.IP,
			Port: p.Port,
		}
	}
	return worldEntry{Name: cfg.Server.Name, IP: cfg.Server.IP, Port: cfg.Server.GamePort}
}

func castWorld(cfg *config.Config) worldEntry {
	return worldEntry{Name: cfg.Server.Name, IP: cfg.Server.IP, Port: cfg.Server.LiveCastPort}
}

// writePreamble writes the MOTD, session key and world list header shared by
// both list responses.
// Format: [C 0x14][S motdNum\nmotd] (only when motd is set)
// [C 0x28][S sessionKey] [C 0x64][C 1 world][C id 0][S name][S ip][H port][C preview 0]
func writePreamble(w *packet.Writer, motd string, motdNum uint32, sessionKey string, we worldEntry) {
	if motd != "" {
		w.WriteC(opMOTD)
		w.WriteS(strconv.FormatUint(uint64(motdNum), 10) + "\n" + motd)
	}

	w.WriteC(opSessionKey)
	w.WriteS(sessionKey)

	w.WriteC(opCharacterList)
	w.WriteC(1) // world count
	w.WriteC(0) // world id
	w.WriteS(we.Name)
	w.WriteS(we.IP)
	w.WriteH(we.Port)
	w.WriteC(0) // preview
}

// characterList is everything the character list response carries.
type characterList struct {
	Account       string
	Password      string
	Token         string
	Tick          uint64
	Characters    []string
	PremiumEndsAt int64
	ProxyID       uint16
	MOTD          string
	MOTDNum       uint32
	FreePremium   bool
	Now           time.Time
}

// buildCharacterList builds the success response.
// Format: [C 0x0C][C 0] preamble [C count]{[C world id][S name]}... [C 0][C premium][D premiumEnds]
func buildCharacterList(cfg *config.Config, cl characterList) []byte {
	w := packet.NewWriterWithOpcode(opTokenSuccess)
	w.WriteC(0)

	sessionKey := cl.Account + "\n" + cl.Password + "\n" + cl.Token + "\n" + strconv.FormatUint(cl.Tick, 10)
	writePreamble(w, cl.MOTD, cl.MOTDNum, sessionKey, characterWorld(cfg, cl.ProxyID))

	chars := cl.Characters
	if len(chars) > maxCharacters {
		chars = chars[:maxCharacters]
	}
	w.WriteC(byte(len(chars)))
	for _, name := range chars {
		w.WriteC(0) // world id
		w.WriteS(name)
	}

	w.WriteC(0)
	if cl.FreePremium {
		w.WriteC(1)
		w.WriteD(0)
	} else {
		w.WriteBool(cl.PremiumEndsAt > cl.Now.Unix())
		w.WriteD(clampUnix(cl.PremiumEndsAt))
	}
	return w.Bytes()
}

// buildTokenRejected is the challenge failure response.
// Format: [C 0x0D][C 0]
func buildTokenRejected() []byte {
	return []byte{opTokenRejected, 0}
}

// castList is everything the cast list response carries.
type castList struct {
	Password    string
	Version     uint16
	Casts       []world.Cast
	MOTD        string
	MOTDNum     uint32
	FreePremium bool
	Now         time.Time
}

// buildCastList builds the spectator response.
// Format: preamble [C count]{[C 0][S "name [N viewers (ver)]"]}... [C 0][C freePremium][D now or 0]
func buildCastList(cfg *config.Config, cl castList) []byte {
	w := packet.NewWriter()
	writePreamble(w, cl.MOTD, cl.MOTDNum, "\n"+cl.Password, castWorld(cfg))

	casts := cl.Casts
	if len(casts) > world.MaxCasts {
		casts = casts[:world.MaxCasts]
	}
	w.WriteC(byte(len(casts)))
	for _, c := range casts {
		w.WriteC(0)
		w.WriteS(fmt.Sprintf("%s [%d viewers (%d)]", c.Name, c.Viewers, cl.Version/10))
	}

	w.WriteC(0)
	w.WriteBool(cl.FreePremium)
	if cl.FreePremium {
		w.WriteD(0)
	} else {
		w.WriteD(clampUnix(cl.Now.Unix()))
	}
	return w.Bytes()
}

func clampUnix(sec int64) uint32 {
	switch {
	case sec < 0:
		return 0
	case sec > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(sec)
}
