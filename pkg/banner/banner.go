package banner

import "fmt"

const banner = `
████████╗██╗  ██╗██████╗ ███████╗ █████╗ ██████╗ ███████╗██╗   ██╗███╗   ██╗ ██████╗
╚══██╔══╝██║  ██║██╔══██╗██╔════╝██╔══██╗██╔══██╗██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
   ██║   ███████║██████╔╝█████╗  ███████║██║  ██║███████╗ ╚████╔╝ ██╔██╗ ██║██║
   ██║   ██╔══██║██╔══██╗██╔══╝  ██╔══██║██║  ██║╚════██║  ╚██╔╝  ██║╚██╗██║██║
   ██║   ██║  ██║██║  ██║███████╗██║  ██║██████╔╝███████║   ██║   ██║ ╚████║╚██████╗
   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═════╝ ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner plus the resolved runtime values.
func Print(backend, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Backend:  %s\n", backend)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Commands ===================================================")
	fmt.Println("type a message and press enter to talk to the agent")
	fmt.Println(":threads            list threads")
	fmt.Println(":open <id>          open a thread")
	fmt.Println(":new [title]        start a fresh thread")
	fmt.Println(":retry              resend the last message")
	fmt.Println(":regen <msg-id>     regenerate an assistant message")
	fmt.Println(":vote up|down <msg-id>")
	fmt.Println(":rename <title>     rename the open thread")
	fmt.Println(":delete             delete the open thread")
	fmt.Println(":quit")
	fmt.Println("\n== Logs: ======================================================")
}
