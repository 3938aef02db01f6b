package command

import "strings"

// Replies, as deployed.
const (
	msgPong = "Active ✅"

	msgRemindUsage    = "❌ Format salah!\nContoh: .remind Quiz 18-09-2025 jam 19:09"
	msgRemindPast     = "❌ Waktu deadline sudah lewat."
	msgRemindSaved    = "✅ Reminder disimpan (ID: %d)"
	msgRemindSaveFail = "⚠️ Gagal menyimpan reminder."

	msgListRemindFail  = "⚠️ Gagal ambil data reminder."
	msgListRemindEmpty = "📭 Tidak ada reminder aktif."
	msgListRemindHead  = "📋 Reminder aktif:\n"

	msgDelRemindUsage = "❌ Format salah!\nContoh: .delremind 1"
	msgDelRemindNaN   = "❌ ID harus angka."
	msgDelRemindOK    = "🗑️ Reminder dengan ID %d berhasil dihapus."
	msgDelRemindFail  = "⚠️ Gagal menghapus reminder."

	msgGroupsEmpty   = "📭 Tidak ada groups terdaftar."
	msgGroupsHead    = "📂 Groups:\n"
	msgNoSenders     = "(tidak ada sender)"
	msgSendersHead   = "📜 Senders for %s:\n"
	msgGroupNotFound = "❌ Group tidak ditemukan."
	msgGroupExists   = "❌ Group sudah ada."
	msgConfigFail    = "⚠️ Gagal menyimpan config."
	msgConfigHead    = "📂 Config:\n"

	msgGroupAdded   = "✅ Group %s dibuat, target = %s"
	msgGroupDeleted = "🗑️ Group %s dihapus."
	msgSenderAdded  = "✅ Sender %s ditambahkan ke %s"
	msgSenderRemove = "🗑️ Sender %s dihapus dari %s"
	msgTargetSet    = "✅ Target untuk %s diset ke %s"
	msgDefaultSet   = "✅ Default fallback target diset ke %s"
)

// Audit lines for admin mutations; the first verb is the acting chat id.
const (
	auditAddGroup  = "%s added group %s -> %s"
	auditDelGroup  = "%s deleted group %s"
	auditAddSender = "%s added sender %s -> %s"
	auditDelSender = "%s removed sender %s from %s"
	auditSetTarget = "%s set target %s -> %s"
	auditSetDef    = "%s set default_target -> %s"
)

func usage(cmd string) string { return "❌ Format: " + cmd }

var helpText = strings.Join([]string{
	"📖 *WA Bot Help*",
	"User commands:",
	".remind <pesan> <dd-mm-yyyy> jam <hh:mm>",
	".listremind",
	".delremind <id>",
	"",
	"Admin commands:",
	".listgroups",
	".listsenders <group>",
	".addgroup <group> <targetId>",
	".delgroup <group>",
	".addsender <group> <email>",
	".delsender <group> <email>",
	".settarget <group> <targetId>",
	".setdefault <targetId>",
	".listconfig",
	".help",
}, "\n")
