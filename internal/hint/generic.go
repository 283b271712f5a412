// SPDX-License-Identifier: MPL-2.0

package hint

import "github.com/faultlab/faultlab/internal/scenario"

// FallbackGenericHint is used for issues without hints in an unknown category.
const FallbackGenericHint = "Try checking system logs in /var/log for error messages."

var genericHints = map[scenario.Category][]string{
	scenario.CategoryNetworking: {
		"Check network connectivity with ping or traceroute.",
		"Verify DNS resolution with nslookup or dig.",
		"Check firewall settings with iptables -L.",
		"Examine network interfaces with ip addr or ifconfig.",
	},
	scenario.CategoryFileSystem: {
		"Check disk space with df -h.",
		"Verify file permissions with ls -la.",
		"Look for disk errors with dmesg | grep -i error.",
		"Check mount points with mount or cat /etc/fstab.",
	},
	scenario.CategoryProcessManagement: {
		"Check running processes with ps aux.",
		"Look for high CPU usage with top.",
		"Check for zombie processes with ps aux | grep Z.",
		"Examine process details with pstree or htop.",
	},
	scenario.CategoryPermissions: {
		"Check file ownership with ls -la.",
		"Verify user and group IDs with id.",
		"Look at access control lists with getfacl.",
		"Check sudo permissions with sudo -l.",
	},
	scenario.CategoryServiceConfiguration: {
		"Check service status with systemctl status service_name.",
		"Look at service logs with journalctl -u service_name.",
		"Verify configuration files in /etc.",
		"Check for syntax errors in config files.",
	},
	scenario.CategoryResourceUsage: {
		"Check memory usage with free -m.",
		"Look at disk I/O with iostat.",
		"Monitor system load with uptime.",
		"Check for memory leaks with valgrind.",
	},
	scenario.CategoryPackageManagement: {
		"Verify package installation with dpkg -l or rpm -qa.",
		"Check for broken packages with apt --fix-broken install.",
		"Look at package repositories in /etc/apt/sources.list or /etc/yum.repos.d/.",
		"Verify package dependencies with apt-cache depends or yum deplist.",
	},
}
