package main

import "github.com/KevinKickass/OpenMotionCore/cmd/motioncored/cmd"

func main() {
	cmd.Execute()
}
