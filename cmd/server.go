package cmd

import (
	"ClubFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动ClubFM服务器",
	Long:  `启动ClubFM直播点歌投票系统的HTTP服务器，提供API服务与实时推送`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
